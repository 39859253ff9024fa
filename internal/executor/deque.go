// Copyright (c) 2024 santosr2
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package executor

import "slices"

// deque is the fresh-entry work queue. Blockers and escalated parents jump
// the line at the front; retried entries go to the back.
type deque struct {
	items []freshEntry
}

func newDeque(items []freshEntry) *deque {
	return &deque{items: slices.Clone(items)}
}

func (d *deque) len() int { return len(d.items) }

func (d *deque) popFront() freshEntry {
	front := d.items[0]
	d.items = d.items[1:]
	return front
}

func (d *deque) pushFront(e freshEntry) {
	d.items = slices.Insert(d.items, 0, e)
}

func (d *deque) pushBack(e freshEntry) {
	d.items = append(d.items, e)
}
