package item

import (
	"fmt"
	"strconv"
)

// Attributes is the declared desired state of an item as decoded from
// configuration.
type Attributes map[string]interface{}

func (a Attributes) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", nil
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case int, int64, float64, bool:
		return fmt.Sprint(t), nil
	}
	return "", fmt.Errorf("attribute %s: expected string, got %T", key, v)
}

func (a Attributes) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return def, fmt.Errorf("attribute %s: %w", key, err)
		}
		return b, nil
	}
	return def, fmt.Errorf("attribute %s: expected bool, got %T", key, v)
}

// Int returns -1 with a nil error when key is unset.
func (a Attributes) Int(key string) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return -1, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return -1, fmt.Errorf("attribute %s: %w", key, err)
		}
		return n, nil
	}
	return -1, fmt.Errorf("attribute %s: expected integer, got %T", key, v)
}

func (a Attributes) StringList(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("attribute %s: expected list of strings, got element %T", key, e)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("attribute %s: expected list of strings, got %T", key, v)
}
