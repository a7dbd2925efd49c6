package matcher

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Parse compiles an expression of the form
//
//	origin:GRIB1,200 or BUFR,98; product:GRIB1,200,2,11; reftime:>=2007-07-08,<2008
//
// Clauses are joined by ';' and ANDed; alternatives inside a clause are
// joined by " or " and ORed. Attribute alternatives are STYLE followed by
// comma-separated positional integers, an empty position meaning wildcard.
// Reftime alternatives are comparisons (>=, <=, >, <, =) against a possibly-
// partial timestamp; a partial timestamp names the whole period it
// abbreviates (=2007-07 covers the month).
func Parse(expr string) (*Matcher, error) {
	m := New()
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return m, nil
	}
	for _, clause := range strings.Split(expr, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		name, body, found := strings.Cut(clause, ":")
		if !found {
			return nil, fmt.Errorf("matcher: %w: clause %q has no ':'", errs.ErrMalformedInput, clause)
		}
		name = strings.TrimSpace(name)
		body = strings.TrimSpace(body)

		code, ok := codeByName(name)
		if !ok {
			return nil, fmt.Errorf("matcher: %w: unknown attribute code %q", errs.ErrMalformedInput, name)
		}
		if code == types.CodeReftime {
			if err := m.parseReftime(body); err != nil {
				return nil, err
			}
			continue
		}
		for _, alt := range strings.Split(body, " or ") {
			term, err := parseTerm(code, strings.TrimSpace(alt))
			if err != nil {
				return nil, err
			}
			m.terms[code] = append(m.terms[code], term)
		}
	}
	return m, nil
}

func codeByName(name string) (types.Code, bool) {
	for _, code := range types.Codes {
		if code.String() == name {
			return code, true
		}
	}
	return 0, false
}

func parseTerm(code types.Code, alt string) (Term, error) {
	switch code {
	case types.CodeTask, types.CodeQuantity:
		return Term{Str: alt}, nil
	}
	parts := strings.Split(alt, ",")
	style := strings.TrimSpace(parts[0])
	if style == "" {
		return Term{}, fmt.Errorf("matcher: %w: %s alternative %q has no style", errs.ErrMalformedInput, code, alt)
	}
	t := Term{Style: style}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			t.Args = append(t.Args, 0)
			t.Mask = append(t.Mask, false)
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Term{}, fmt.Errorf("matcher: %w: %s argument %q: %v", errs.ErrMalformedInput, code, p, err)
		}
		t.Args = append(t.Args, n)
		t.Mask = append(t.Mask, true)
	}
	if arity, ok := styleArity(code, style); ok {
		if len(t.Args) > arity {
			return Term{}, fmt.Errorf("matcher: %w: %s style %s takes at most %d arguments, got %d",
				errs.ErrMalformedInput, code, style, arity, len(t.Args))
		}
		// Pad trailing omitted positions as wildcards so exactness checks see the
		// full arity.
		for len(t.Args) < arity {
			t.Args = append(t.Args, 0)
			t.Mask = append(t.Mask, false)
		}
	}
	return t, nil
}

func (m *Matcher) parseReftime(body string) error {
	if m.reftime == nil {
		m.reftime = &TimeBound{}
	}
	for _, cond := range strings.Split(body, ",") {
		cond = strings.TrimSpace(cond)
		if cond == "" {
			continue
		}
		op := "="
		rest := cond
		for _, candidate := range []string{">=", "<=", ">", "<", "="} {
			if strings.HasPrefix(cond, candidate) {
				op = candidate
				rest = strings.TrimSpace(cond[len(candidate):])
				break
			}
		}
		start, end, err := parsePartialTime(rest)
		if err != nil {
			return err
		}
		switch op {
		case ">=":
			m.tightenMin(start)
		case ">":
			m.tightenMin(succ(end))
		case "<=":
			m.tightenMax(end)
		case "<":
			m.tightenMax(pred(start))
		case "=":
			m.tightenMin(start)
			m.tightenMax(end)
		}
	}
	return nil
}

func (m *Matcher) tightenMin(t types.Time) {
	if !m.reftime.HasMin || t.Compare(m.reftime.Min) > 0 {
		m.reftime.Min, m.reftime.HasMin = t, true
	}
}

func (m *Matcher) tightenMax(t types.Time) {
	if !m.reftime.HasMax || t.Compare(m.reftime.Max) < 0 {
		m.reftime.Max, m.reftime.HasMax = t, true
	}
}

// parsePartialTime parses "2007", "2007-07", "2007-07-08", "2007-07-08 12",
// down to full seconds, returning the first and last instant of the period
// the string abbreviates.
func parsePartialTime(s string) (start, end types.Time, err error) {
	datePart, timePart, _ := strings.Cut(s, " ")
	var fields []int
	for _, p := range strings.Split(datePart, "-") {
		n, convErr := strconv.Atoi(strings.TrimSpace(p))
		if convErr != nil {
			return start, end, fmt.Errorf("matcher: %w: bad timestamp %q", errs.ErrMalformedInput, s)
		}
		fields = append(fields, n)
	}
	if timePart != "" {
		for _, p := range strings.Split(timePart, ":") {
			n, convErr := strconv.Atoi(strings.TrimSpace(p))
			if convErr != nil {
				return start, end, fmt.Errorf("matcher: %w: bad timestamp %q", errs.ErrMalformedInput, s)
			}
			fields = append(fields, n)
		}
	}
	if len(fields) == 0 || len(fields) > 6 {
		return start, end, fmt.Errorf("matcher: %w: bad timestamp %q", errs.ErrMalformedInput, s)
	}

	full := [6]int{0, 1, 1, 0, 0, 0}
	copy(full[:], fields)
	start = types.Time{
		Year: uint16(full[0]), Month: uint8(full[1]), Day: uint8(full[2]),
		Hour: uint8(full[3]), Minute: uint8(full[4]), Second: uint8(full[5]),
	}
	if err := start.Validate(); err != nil {
		return start, end, fmt.Errorf("matcher: %w: timestamp %q: %v", errs.ErrMalformedInput, s, err)
	}

	switch len(fields) {
	case 1:
		end = types.Time{Year: start.Year, Month: 12, Day: 31, Hour: 23, Minute: 59, Second: 59}
	case 2:
		last := lastDayOfMonth(start.Year, start.Month)
		end = types.Time{Year: start.Year, Month: start.Month, Day: last, Hour: 23, Minute: 59, Second: 59}
	case 3:
		end = types.Time{Year: start.Year, Month: start.Month, Day: start.Day, Hour: 23, Minute: 59, Second: 59}
	case 4:
		end = start
		end.Minute, end.Second = 59, 59
	case 5:
		end = start
		end.Second = 59
	case 6:
		end = start
	}
	return start, end, nil
}

func lastDayOfMonth(year uint16, month uint8) uint8 {
	t := time.Date(int(year), time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
	return uint8(t.Day())
}

func toStd(t types.Time) time.Time {
	return time.Date(int(t.Year), time.Month(t.Month), int(t.Day), int(t.Hour), int(t.Minute), int(t.Second), 0, time.UTC)
}

func fromStd(t time.Time) types.Time {
	return types.Time{
		Year: uint16(t.Year()), Month: uint8(t.Month()), Day: uint8(t.Day()),
		Hour: uint8(t.Hour()), Minute: uint8(t.Minute()), Second: uint8(t.Second()),
	}
}

func succ(t types.Time) types.Time { return fromStd(toStd(t).Add(time.Second)) }
func pred(t types.Time) types.Time { return fromStd(toStd(t).Add(-time.Second)) }
