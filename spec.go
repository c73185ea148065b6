package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sort"
	"strconv"
	"strings"
)

// -------------------- Parameter spec --------------------

// ParamSpec maps each parameter id to its ordered set of admissible values.
// Loaded once, immutable for the run.
type ParamSpec map[int][]int

// readParamSpecs loads a spec CSV:
//
//	param_num,value_spec
//	0,"0,85,170,255"
//	5,"0,127"
//
// Malformed rows are logged and skipped; they never abort the load.
func readParamSpecs(path string, log *slog.Logger) (ParamSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spec: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("spec: read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("spec: %s is empty", path)
	}

	specs := ParamSpec{}
	for _, row := range rows[1:] { // skip header
		if len(row) < 2 {
			log.Warn("spec: short row skipped", "row", row)
			continue
		}
		param, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil || param < 0 {
			log.Warn("spec: bad parameter id skipped", "row", row)
			continue
		}
		values, err := parseValueList(row[1])
		if err != nil {
			log.Warn("spec: bad value list skipped", "param", param, "err", err)
			continue
		}
		specs[param] = values
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("spec: %s contains no usable rows", path)
	}
	return specs, nil
}

func parseValueList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", p, err)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty value list")
	}
	return values, nil
}

// params returns the parameter ids in ascending order, for deterministic
// programming order.
func (s ParamSpec) params() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// sample draws one admissible value per parameter, uniformly at random.
func (s ParamSpec) sample(rng *rand.Rand) Assignment {
	a := make(Assignment, len(s))
	for id, values := range s {
		a[id] = values[rng.IntN(len(values))]
	}
	return a
}

// -------------------- Assignment --------------------

// Assignment is one complete choice of value for every parameter id.
type Assignment map[int]int

// canonical serializes the assignment as a JSON object with stringified,
// sorted keys. Two assignments are the same trial iff their canonical
// forms match; this string is also what the trial log stores.
func (a Assignment) canonical() string {
	m := make(map[string]int, len(a))
	for id, v := range a {
		m[strconv.Itoa(id)] = v
	}
	out, err := json.Marshal(m) // map keys marshal in sorted order
	if err != nil {
		// A map[string]int cannot fail to marshal.
		panic(fmt.Sprintf("assignment: marshal: %v", err))
	}
	return string(out)
}
