package ecs

import "reflect"

// column wraps a reflect-backed slice for one component kind within a
// single (zone, archetype) cell, grounded on the teacher's
// ecs_reflect.go AnySlice/reflectSlice* helpers.
type column struct {
	elemType reflect.Type
	val      reflect.Value // addressable slice value
}

func newColumn(t reflect.Type) *column {
	return &column{
		elemType: t,
		val:      reflect.MakeSlice(reflect.SliceOf(t), 0, 1),
	}
}

func (c *column) len() int { return c.val.Len() }

// append grows the column by one zero-valued element (reflect.Append
// requires a valid Value to copy in, even when the caller's very next
// call is set() to overwrite it — a zero Value panics in Set).
func (c *column) append() {
	c.val = reflect.Append(c.val, reflect.Zero(c.elemType))
}

func (c *column) get(idx int) reflect.Value {
	return c.val.Index(idx)
}

func (c *column) set(idx int, v reflect.Value) {
	c.val.Index(idx).Set(v)
}

// swapLast moves the value at lastIdx into idx, used when a dealloc
// leaves a hole that isn't already the last row.
func (c *column) swapLast(idx, lastIdx int) {
	c.val.Index(idx).Set(c.val.Index(lastIdx))
}

// truncateLast drops the final element after its value has been copied
// elsewhere (or discarded on dealloc of the last row).
func (c *column) truncateLast() {
	c.val = c.val.Slice(0, c.val.Len()-1)
}

func getTyped[T any](c *column, idx int) T {
	return c.get(idx).Interface().(T)
}

func setTyped[T any](c *column, idx int, value T) {
	c.set(idx, reflect.ValueOf(value))
}
