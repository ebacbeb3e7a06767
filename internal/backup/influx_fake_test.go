package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakePoint is one stored row of the in-memory InfluxDB stand-in. integer
// records whether the written line carried the integer type suffix.
type fakePoint struct {
	ts      int64
	val     float64
	tags    map[string]string
	integer bool
}

// fakeInflux is a minimal InfluxDB 1.x stand-in covering the queries the
// backup core issues: ping, metadata, per-field selectors and line-protocol
// writes.
type fakeInflux struct {
	mu         sync.Mutex
	points     map[string]map[string][]fakePoint // measurement -> field -> points
	fieldTypes map[string]map[string]string      // measurement -> field -> native type
	tagKeys    map[string][]string

	queries          []string
	writeCalls       int
	writeFailLeft    int
	writeFailStatus  int
	createdDatabases []string
}

var (
	lastRe   = regexp.MustCompile(`^SELECT LAST\("([^"]+)"\) FROM "([^"]+)"`)
	firstRe  = regexp.MustCompile(`^SELECT FIRST\("([^"]+)"\) FROM "([^"]+)"`)
	countRe  = regexp.MustCompile(`^SELECT COUNT\("([^"]+)"\) FROM "([^"]+)" WHERE time (>=|>) (-?\d+) AND time < (-?\d+)`)
	selectRe = regexp.MustCompile(`^SELECT "([^"]+)"(.*) FROM "([^"]+)" WHERE time (>=|>) (-?\d+) AND time < (-?\d+)`)
	fieldsRe = regexp.MustCompile(`^SHOW FIELD KEYS FROM "([^"]+)"`)
	tagsRe   = regexp.MustCompile(`^SHOW TAG KEYS FROM "([^"]+)"`)
	createRe = regexp.MustCompile(`^CREATE DATABASE "([^"]+)"`)
)

func newFakeInflux() *fakeInflux {
	return &fakeInflux{
		points:     make(map[string]map[string][]fakePoint),
		fieldTypes: make(map[string]map[string]string),
		tagKeys:    make(map[string][]string),
	}
}

// setFieldType overrides the native type SHOW FIELD KEYS reports for a field.
// Fields default to float.
func (f *fakeInflux) setFieldType(measurement, field, native string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fieldTypes[measurement] == nil {
		f.fieldTypes[measurement] = make(map[string]string)
	}
	f.fieldTypes[measurement][field] = native
}

func (f *fakeInflux) addPoint(measurement, field string, ts int64, val float64, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points[measurement] == nil {
		f.points[measurement] = make(map[string][]fakePoint)
	}
	f.points[measurement][field] = append(f.points[measurement][field], fakePoint{ts: ts, val: val, tags: tags})
	for tag := range tags {
		if !containsString(f.tagKeys[measurement], tag) {
			f.tagKeys[measurement] = append(f.tagKeys[measurement], tag)
		}
	}
}

func (f *fakeInflux) failNextWrites(n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeFailLeft = n
	f.writeFailStatus = status
}

func (f *fakeInflux) countPoints(measurement, field string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points[measurement][field])
}

func (f *fakeInflux) timestamps(measurement, field string) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, p := range f.points[measurement][field] {
		out = append(out, p.ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// integerWrites counts stored points whose line carried the integer suffix.
func (f *fakeInflux) integerWrites(measurement, field string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, p := range f.points[measurement][field] {
		if p.integer {
			n++
		}
	}
	return n
}

func (f *fakeInflux) recordedQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *fakeInflux) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeInflux) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/query":
		f.handleQuery(w, r)
	case "/write":
		f.handleWrite(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeSeries(w http.ResponseWriter, name string, columns []string, values [][]interface{}) {
	resp := map[string]interface{}{
		"results": []interface{}{
			map[string]interface{}{
				"series": []interface{}{
					map[string]interface{}{
						"name":    name,
						"columns": columns,
						"values":  values,
					},
				},
			},
		},
	}
	json.NewEncoder(w).Encode(resp)
}

func writeEmpty(w http.ResponseWriter) {
	fmt.Fprint(w, `{"results":[{}]}`)
}

func (f *fakeInflux) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q string
	if r.Method == http.MethodPost {
		r.ParseForm()
		q = r.PostForm.Get("q")
	} else {
		q = r.URL.Query().Get("q")
	}

	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	switch {
	case createRe.MatchString(q):
		m := createRe.FindStringSubmatch(q)
		f.mu.Lock()
		f.createdDatabases = append(f.createdDatabases, m[1])
		f.mu.Unlock()
		writeEmpty(w)

	case q == "SHOW MEASUREMENTS":
		f.mu.Lock()
		var names []string
		for name := range f.points {
			names = append(names, name)
		}
		f.mu.Unlock()
		sort.Strings(names)
		var values [][]interface{}
		for _, name := range names {
			values = append(values, []interface{}{name})
		}
		writeSeries(w, "measurements", []string{"name"}, values)

	case fieldsRe.MatchString(q):
		m := fieldsRe.FindStringSubmatch(q)
		f.mu.Lock()
		var fields []string
		for field := range f.points[m[1]] {
			fields = append(fields, field)
		}
		types := f.fieldTypes[m[1]]
		f.mu.Unlock()
		sort.Strings(fields)
		var values [][]interface{}
		for _, field := range fields {
			native := types[field]
			if native == "" {
				native = "float"
			}
			values = append(values, []interface{}{field, native})
		}
		writeSeries(w, m[1], []string{"fieldKey", "fieldType"}, values)

	case tagsRe.MatchString(q):
		m := tagsRe.FindStringSubmatch(q)
		f.mu.Lock()
		keys := append([]string(nil), f.tagKeys[m[1]]...)
		f.mu.Unlock()
		sort.Strings(keys)
		var values [][]interface{}
		for _, key := range keys {
			values = append(values, []interface{}{key})
		}
		writeSeries(w, m[1], []string{"tagKey"}, values)

	case lastRe.MatchString(q):
		m := lastRe.FindStringSubmatch(q)
		f.edgeResponse(w, m[2], m[1], false)

	case firstRe.MatchString(q):
		m := firstRe.FindStringSubmatch(q)
		f.edgeResponse(w, m[2], m[1], true)

	case countRe.MatchString(q):
		m := countRe.FindStringSubmatch(q)
		pts := f.selectWindow(m[2], m[1], m[3], m[4], m[5])
		if len(pts) == 0 {
			writeEmpty(w)
			return
		}
		writeSeries(w, m[2], []string{"time", "count"}, [][]interface{}{{0, len(pts)}})

	case selectRe.MatchString(q):
		m := selectRe.FindStringSubmatch(q)
		field, tagPart, measurement := m[1], m[2], m[3]
		pts := f.selectWindow(measurement, field, m[4], m[5], m[6])
		if len(pts) == 0 {
			writeEmpty(w)
			return
		}

		var tagCols []string
		for _, raw := range strings.Split(tagPart, ",") {
			raw = strings.TrimSpace(raw)
			if strings.HasSuffix(raw, "::tag") {
				tagCols = append(tagCols, strings.Trim(strings.TrimSuffix(raw, "::tag"), `"`))
			}
		}

		columns := append([]string{"time", field}, tagCols...)
		var values [][]interface{}
		for _, p := range pts {
			row := []interface{}{p.ts, p.val}
			for _, tag := range tagCols {
				if v, ok := p.tags[tag]; ok {
					row = append(row, v)
				} else {
					row = append(row, nil)
				}
			}
			values = append(values, row)
		}
		writeSeries(w, measurement, columns, values)

	default:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":"unexpected query: %s"}`, q)
	}
}

func (f *fakeInflux) edgeResponse(w http.ResponseWriter, measurement, field string, first bool) {
	f.mu.Lock()
	pts := f.points[measurement][field]
	f.mu.Unlock()

	if len(pts) == 0 {
		writeEmpty(w)
		return
	}

	edge := pts[0]
	for _, p := range pts[1:] {
		if (first && p.ts < edge.ts) || (!first && p.ts > edge.ts) {
			edge = p
		}
	}
	name := "last"
	if first {
		name = "first"
	}
	writeSeries(w, measurement, []string{"time", name}, [][]interface{}{{edge.ts, edge.val}})
}

// selectWindow filters a field's points into the half-open window parsed
// from the query text, honoring an exclusive lower bound.
func (f *fakeInflux) selectWindow(measurement, field, lowerOp, startStr, endStr string) []fakePoint {
	start, _ := strconv.ParseInt(startStr, 10, 64)
	end, _ := strconv.ParseInt(endStr, 10, 64)

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []fakePoint
	for _, p := range f.points[measurement][field] {
		if lowerOp == ">" && p.ts <= start {
			continue
		}
		if lowerOp == ">=" && p.ts < start {
			continue
		}
		if p.ts >= end {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ts < out[j].ts })
	return out
}

func (f *fakeInflux) handleWrite(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.writeCalls++
	if f.writeFailLeft > 0 {
		f.writeFailLeft--
		status := f.writeFailStatus
		f.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	f.mu.Unlock()

	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 3 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"error":"unparseable line: %s"}`, line)
			return
		}

		keyParts := strings.Split(parts[0], ",")
		measurement := keyParts[0]
		tags := make(map[string]string)
		for _, kv := range keyParts[1:] {
			if idx := strings.Index(kv, "="); idx > 0 {
				tags[kv[:idx]] = kv[idx+1:]
			}
		}

		fieldKV := strings.SplitN(parts[1], "=", 2)
		rawVal := fieldKV[1]
		isInt := strings.HasSuffix(rawVal, "i")
		val, _ := strconv.ParseFloat(strings.TrimSuffix(rawVal, "i"), 64)
		ts, _ := strconv.ParseInt(parts[2], 10, 64)

		f.mu.Lock()
		if f.points[measurement] == nil {
			f.points[measurement] = make(map[string][]fakePoint)
		}
		f.points[measurement][fieldKV[0]] = append(f.points[measurement][fieldKV[0]],
			fakePoint{ts: ts, val: val, tags: tags, integer: isInt})
		for tag := range tags {
			if !containsString(f.tagKeys[measurement], tag) {
				f.tagKeys[measurement] = append(f.tagKeys[measurement], tag)
			}
		}
		f.mu.Unlock()
	}

	w.WriteHeader(http.StatusNoContent)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
