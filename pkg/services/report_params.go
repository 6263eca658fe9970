package services

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-insights/pkg/analytics"
	"github.com/ekaya-inc/ekaya-insights/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-insights/pkg/queries"
	"github.com/ekaya-inc/ekaya-insights/pkg/sql"
)

// buildValues turns caller params into render values for t: params are
// matched against the report's declarations, coerced to their declared type,
// defaulted, checked for injection, and option params are expanded into
// query fragments.
func buildValues(t *queries.Template, params map[string]any) (sql.Values, error) {
	declared := make(map[string]string, len(t.Params))
	for name := range t.Params {
		declared[sql.NormalizeName(name)] = name
	}

	supplied := make(map[string]any, len(params))
	for key, v := range params {
		name, ok := declared[sql.NormalizeName(key)]
		if !ok {
			return nil, fmt.Errorf("%w: report %s does not accept %q", apperrors.ErrInvalidParameter, t.Name, key)
		}
		supplied[name] = v
	}

	names := make([]string, 0, len(t.Params))
	for name := range t.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(sql.Values, len(names))
	for _, name := range names {
		p := t.Params[name]
		raw, ok := supplied[name]
		if !ok || isBlank(raw) {
			if p.Required {
				return nil, fmt.Errorf("%w: %s is required", apperrors.ErrInvalidParameter, name)
			}
			raw = p.Default
		}
		if raw == nil {
			continue
		}

		v, err := coerce(p.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrInvalidParameter, name, err)
		}
		values[name] = v
	}

	if flagged := sql.CheckValues(values, nil); len(flagged) > 0 {
		return nil, &injectionError{result: flagged[0]}
	}

	if err := expandOptions(t, values); err != nil {
		return nil, err
	}
	return values, nil
}

// injectionError is a parameter rejected by libinjection. It matches
// apperrors.ErrInvalidParameter.
type injectionError struct {
	result *sql.InjectionCheckResult
}

func (e *injectionError) Error() string {
	return fmt.Sprintf("%s: %s looks like SQL injection", apperrors.ErrInvalidParameter, e.result.Name)
}

func (e *injectionError) Unwrap() error {
	return apperrors.ErrInvalidParameter
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return v == nil || (ok && strings.TrimSpace(s) == "")
}

func coerce(pt queries.ParamType, v any) (any, error) {
	switch pt {
	case queries.ParamString:
		switch val := v.(type) {
		case string:
			return val, nil
		case bool, int, int64, float64:
			return fmt.Sprint(val), nil
		}
	case queries.ParamInt:
		switch val := v.(type) {
		case int:
			return val, nil
		case int64:
			return int(val), nil
		case float64:
			if val == math.Trunc(val) && math.Abs(val) <= math.MaxInt32 {
				return int(val), nil
			}
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("expected an integer, got %q", val)
			}
			return n, nil
		}
		return nil, fmt.Errorf("expected an integer, got %v", v)
	case queries.ParamBool:
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("expected a boolean, got %q", val)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected a boolean, got %v", v)
	case queries.ParamDate:
		switch val := v.(type) {
		case time.Time:
			return val, nil
		case string:
			d, err := time.Parse(time.DateOnly, strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("expected a YYYY-MM-DD date, got %q", val)
			}
			return d, nil
		}
		return nil, fmt.Errorf("expected a YYYY-MM-DD date, got %v", v)
	}
	return nil, fmt.Errorf("unsupported value %v for type %s", v, pt)
}

// expandOptions replaces option params with the fragments they select.
func expandOptions(t *queries.Template, values sql.Values) error {
	if v, ok := values[queries.ParamSince]; ok {
		delete(values, queries.ParamSince)
		since, ok := v.(time.Time)
		if !ok {
			return optionTypeError(queries.ParamSince, v)
		}
		if t.Dialect == queries.DialectHogQL {
			values["DATE_FILTER"] = analytics.DateFilter(t.DateColumn, since)
		} else {
			values["DATE_FILTER"] = sql.DateFilter(t.DateColumn, since)
		}
	}

	for name, v := range values {
		if d, ok := v.(time.Time); ok {
			values[name] = d.Format(time.DateOnly)
		}
	}

	if t.Dialect != queries.DialectHogQL {
		return nil
	}

	if v, ok := values[queries.ParamPeriod]; ok {
		delete(values, queries.ParamPeriod)
		period, ok := v.(string)
		if !ok {
			return optionTypeError(queries.ParamPeriod, v)
		}
		fn, err := analytics.PeriodFunction(period)
		if err != nil {
			return err
		}
		values[analytics.DateFunctionName] = fn
		values[analytics.PeriodSelectName] = analytics.PeriodSelect(fn)
	}

	if v, ok := values[queries.ParamSameTimeOfDay]; ok {
		delete(values, queries.ParamSameTimeOfDay)
		same, ok := v.(bool)
		if !ok {
			return optionTypeError(queries.ParamSameTimeOfDay, v)
		}
		if same {
			values["SAME_TIME_OF_DAY_FILTER"] = analytics.SameTimeOfDayFilter
		}
	}

	if v, ok := values[queries.ParamUserType]; ok {
		delete(values, queries.ParamUserType)
		userType, ok := v.(string)
		if !ok {
			return optionTypeError(queries.ParamUserType, v)
		}
		clause, err := analytics.UserTypeFilter(userType)
		if err != nil {
			return err
		}
		if clause != "" {
			values["USER_TYPE_FILTER"] = clause
		}
	}

	return nil
}

func optionTypeError(name string, v any) error {
	return fmt.Errorf("%w: %s has unexpected type %T", apperrors.ErrInvalidParameter, name, v)
}
