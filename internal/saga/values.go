package saga

import (
	"encoding/json"
	"strconv"
	"sync"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
)

// Values is the working memory shared by a saga's steps: the input data plus
// whatever earlier steps stored. Values round-trip through JSON when the
// record is persisted, so numbers may come back as float64.
type Values struct {
	mu sync.RWMutex
	m  map[string]interface{}
}

func newValues(data map[string]interface{}) *Values {
	m := v1.CloneMap(data)
	if m == nil {
		m = make(map[string]interface{})
	}
	return &Values{m: m}
}

func (v *Values) Get(key string) (interface{}, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.m[key]
	return val, ok
}

func (v *Values) Set(key string, value interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[key] = value
}

func (v *Values) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.m, key)
}

// String returns the value at key when it is a string, "" otherwise.
func (v *Values) String(key string) string {
	val, _ := v.Get(key)
	s, _ := val.(string)
	return s
}

// Float64 accepts any numeric representation, including numeric strings.
func (v *Values) Float64(key string) (float64, bool) {
	val, ok := v.Get(key)
	if !ok {
		return 0, false
	}
	switch n := val.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Bool returns the value at key when it is a bool, false otherwise.
func (v *Values) Bool(key string) bool {
	val, _ := v.Get(key)
	b, _ := val.(bool)
	return b
}

// Map returns a deep copy of the current values.
func (v *Values) Map() map[string]interface{} {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v1.CloneMap(v.m)
}
