package handler

import (
	"fmt"
	"strings"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/infrastructure/persistence"
	"github.com/erp/docsync/internal/interfaces/http/dto"
)

// ParseShape builds a query shape from list parameters. Filters are given
// as field:op:value; values stay strings unless they read as a boolean or
// null, since the store compares numeric strings numerically. The in
// operator takes a comma separated list.
func ParseShape(spec document.ResourceSpec, req dto.PageRequest) (document.Shape, error) {
	shape := document.Shape{
		OrderBy: persistence.ValidateSortField(req.OrderBy, persistence.SortFields(spec), persistence.DefaultSortField(spec)),
	}
	shape.Direction = persistence.ValidateSortOrder(req.OrderDir)

	for _, raw := range req.Where {
		cond, err := parseCondition(raw)
		if err != nil {
			return document.Shape{}, err
		}
		shape.Where = append(shape.Where, cond)
	}
	return shape, nil
}

func parseCondition(raw string) (document.Condition, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
		return document.Condition{}, fmt.Errorf("filter %q must be field:op:value", raw)
	}
	op, err := document.ParseOp(parts[1])
	if err != nil {
		return document.Condition{}, err
	}

	cond := document.Condition{Field: strings.TrimSpace(parts[0]), Op: op}
	if op == document.OpIn {
		values := strings.Split(parts[2], ",")
		list := make([]any, 0, len(values))
		for _, v := range values {
			list = append(list, filterValue(strings.TrimSpace(v)))
		}
		cond.Value = list
		return cond, nil
	}
	cond.Value = filterValue(parts[2])
	return cond, nil
}

func filterValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	return s
}
