package mutation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/ledger"
	"github.com/go-playground/validator/v10"
)

// validateRecord checks data against the resource rules and returns a
// message per rejected field. With partial set only keys present in data
// are checked, which is how updates are validated.
func validateRecord(v *validator.Validate, spec document.ResourceSpec, data document.Record, partial bool) map[string]string {
	fields := make(map[string]string)

	strData := make(map[string]interface{})
	strRules := make(map[string]interface{})
	for field, rule := range spec.Rules {
		value, present := data[field]
		if partial && !present {
			continue
		}
		if value != nil {
			if _, ok := value.(string); !ok {
				fields[field] = "must be text"
				continue
			}
		}
		strData[field] = value
		strRules[field] = rule
	}
	collect(fields, "", v.ValidateMap(strData, strRules))

	numData := make(map[string]interface{})
	numRules := make(map[string]interface{})
	for field, rule := range spec.NumberRules {
		value, present := data[field]
		if partial && !present {
			continue
		}
		if value != nil {
			f, _ := ledger.Coerce(value).Float64()
			numData[field] = f
		}
		numRules[field] = rule
	}
	collect(fields, "", v.ValidateMap(numData, numRules))

	if raw, present := data["items"]; spec.Ledger && present && raw != nil {
		validateItems(v, spec.ItemRules, raw, fields)
	}
	return fields
}

func validateItems(v *validator.Validate, rules map[string]string, raw any, fields map[string]string) {
	var items []any
	switch t := raw.(type) {
	case []any:
		items = t
	case []map[string]any:
		for _, m := range t {
			items = append(items, m)
		}
	default:
		fields["items"] = "must be a list"
		return
	}
	for i, entry := range items {
		prefix := fmt.Sprintf("items[%d]", i)
		item, ok := entry.(map[string]any)
		if !ok {
			fields[prefix] = "must be an object"
			continue
		}
		data := make(map[string]interface{})
		itemRules := make(map[string]interface{})
		for field, rule := range rules {
			value := item[field]
			if value != nil {
				if _, ok := value.(string); !ok {
					fields[prefix+"."+field] = "must be text"
					continue
				}
			}
			data[field] = value
			itemRules[field] = rule
		}
		collect(fields, prefix+".", v.ValidateMap(data, itemRules))
	}
}

func collect(fields map[string]string, prefix string, errs map[string]interface{}) {
	for field, raw := range errs {
		ves, ok := raw.(validator.ValidationErrors)
		if !ok || len(ves) == 0 {
			fields[prefix+field] = "is invalid"
			continue
		}
		fields[prefix+field] = message(ves[0])
	}
}

func message(fe validator.FieldError) string {
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + unit
	case "min":
		return "must be at least " + fe.Param() + unit
	case "len":
		return "must be exactly " + fe.Param() + unit
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "alpha":
		return "must contain letters only"
	}
	return "is invalid (" + fe.Tag() + ")"
}

// prepare removes derived fields from a caller record
func prepare(data document.Record) document.Record {
	for _, f := range document.DerivedFields {
		delete(data, f)
	}
	return data
}

// withDefaults fills absent keys from the resource defaults
func withDefaults(data document.Record, defaults document.Record) document.Record {
	for k, v := range defaults {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}
	return data
}
