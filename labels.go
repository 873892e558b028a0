package serializer

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/zoobzio/sentinel"
)

func init() {
	sentinel.Tag(labelTag)
}

// labelTag declares a field's label: `label:"system"` or `label:"search,priority=3"`.
const labelTag = "label"

// FieldLabel assigns one struct field to a label.
type FieldLabel struct {
	Field    string // Go field name
	Key      string // wire key (json tag name or Go field name)
	Label    string
	Priority int
	index    []int
}

// LabelDeclarer lets a type declare its labels without struct tags, for
// example from generated code. Field is the Go field name; Key and
// Priority are filled in when left empty or zero.
type LabelDeclarer interface {
	FieldLabels() []FieldLabel
}

// plainField is an unlabeled field copied verbatim into the companion.
type plainField struct {
	key   string
	index []int
}

// LabelPlan is the per-type field→label map, computed once at registration.
type LabelPlan struct {
	TypeName string
	goType   reflect.Type
	fields   []FieldLabel // labeled fields in declaration order
	plain    []plainField
	labels   []string // distinct labels in processing order
}

// Labels returns the distinct labels in processing order.
func (p *LabelPlan) Labels() []string {
	return slices.Clone(p.labels)
}

// Fields returns the labeled fields in declaration order.
func (p *LabelPlan) Fields() []FieldLabel {
	return slices.Clone(p.fields)
}

// FieldsFor returns the fields tagged with label, in declaration order.
func (p *LabelPlan) FieldsFor(label string) []FieldLabel {
	var out []FieldLabel
	for _, f := range p.fields {
		if f.Label == label {
			out = append(out, f)
		}
	}
	return out
}

// HasLabels reports whether any field carries a label.
func (p *LabelPlan) HasLabels() bool {
	return len(p.fields) > 0
}

// GoType returns the Go type the plan was built for.
func (p *LabelPlan) GoType() reflect.Type {
	return p.goType
}

// buildLabelPlan scans T for label declarations.
func buildLabelPlan[T any](wireName string) (*LabelPlan, error) {
	rt := reflect.TypeFor[T]()
	if rt.Kind() != reflect.Struct {
		return nil, newTypeError(ErrUnsupportedValue, wireName, rt.String(), fmt.Errorf("labels require a struct type"))
	}

	declared := make(map[string]FieldLabel)
	var zero T
	declarer, ok := any(zero).(LabelDeclarer)
	if !ok {
		declarer, ok = any(&zero).(LabelDeclarer)
	}
	if ok {
		for _, fl := range declarer.FieldLabels() {
			if fl.Priority == 0 {
				fl.Priority = LabelPriority(fl.Label)
			}
			declared[fl.Field] = fl
		}
	} else {
		spec := sentinel.Scan[T]()
		for _, field := range spec.Fields {
			val, ok := field.Tags[labelTag]
			if !ok {
				continue
			}
			fl, err := parseLabelTag(val)
			if err != nil {
				return nil, &LabelError{Err: ErrInvalidLabel, TypeName: wireName, Field: field.Name, Cause: err}
			}
			fl.Field = field.Name
			declared[field.Name] = fl
		}
	}

	plan := &LabelPlan{TypeName: wireName, goType: rt}
	seen := make(map[string]bool, len(declared))
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		key, skip := fieldKey(sf)
		if skip {
			seen[sf.Name] = true
			continue
		}
		if strings.HasSuffix(key, encryptedSuffix) {
			return nil, &LabelError{Err: ErrInvalidLabel, TypeName: wireName, Field: sf.Name,
				Cause: fmt.Errorf("key %q collides with companion group keys", key)}
		}

		fl, ok := declared[sf.Name]
		if !ok {
			plan.plain = append(plan.plain, plainField{key: key, index: sf.Index})
			continue
		}
		seen[sf.Name] = true
		if fl.Label == "" {
			return nil, &LabelError{Err: ErrInvalidLabel, TypeName: wireName, Field: sf.Name, Cause: fmt.Errorf("empty label")}
		}
		if fl.Key == "" {
			fl.Key = key
		}
		fl.index = sf.Index
		plan.fields = append(plan.fields, fl)
	}

	for name := range declared {
		if !seen[name] {
			return nil, &LabelError{Err: ErrInvalidLabel, TypeName: wireName, Field: name,
				Cause: fmt.Errorf("no such exported field")}
		}
	}

	labels, err := orderLabels(plan.fields)
	if err != nil {
		return nil, &LabelError{Err: ErrInvalidLabel, TypeName: wireName, Cause: err}
	}
	plan.labels = labels
	return plan, nil
}

// orderLabels returns the distinct labels sorted by priority, then by
// ordinal name. Every field of a label must agree on its priority.
func orderLabels(fields []FieldLabel) ([]string, error) {
	priorities := make(map[string]int)
	for _, f := range fields {
		if p, ok := priorities[f.Label]; ok && p != f.Priority {
			return nil, fmt.Errorf("label %q declared with priorities %d and %d", f.Label, p, f.Priority)
		}
		priorities[f.Label] = f.Priority
	}

	labels := make([]string, 0, len(priorities))
	for label := range priorities {
		labels = append(labels, label)
	}
	slices.SortFunc(labels, func(a, b string) int {
		if c := cmp.Compare(priorities[a], priorities[b]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return labels, nil
}

// parseLabelTag parses "name" or "name,priority=N".
func parseLabelTag(tag string) (FieldLabel, error) {
	parts := strings.Split(tag, ",")
	fl := FieldLabel{Label: strings.TrimSpace(parts[0])}
	if fl.Label == "" {
		return fl, fmt.Errorf("empty label")
	}
	fl.Priority = LabelPriority(fl.Label)
	for _, opt := range parts[1:] {
		name, value, ok := strings.Cut(strings.TrimSpace(opt), "=")
		if !ok || name != "priority" {
			return fl, fmt.Errorf("unknown label option %q", opt)
		}
		p, err := strconv.Atoi(value)
		if err != nil || p < 0 {
			return fl, fmt.Errorf("invalid priority %q", value)
		}
		fl.Priority = p
	}
	return fl, nil
}

// fieldKey returns the wire key for a struct field, following the json
// tag both body codecs are configured with.
func fieldKey(sf reflect.StructField) (key string, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = sf.Name
	}
	return name, false
}
