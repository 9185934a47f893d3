package logparse

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/mongoslow/internal/model"
	"github.com/tinytelemetry/mongoslow/internal/timestamp"
)

const scenarioLine = `2024-01-01T00:00:00 I COMMAND [conn1] command mydb.orders command: find { filter: { status: "open" } } durationMillis:150`

func TestParse_TextCommand(t *testing.T) {
	p := NewParser()

	rec, err := p.Parse(scenarioLine, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.Namespace != "mydb.orders" {
		t.Errorf("namespace = %q, want mydb.orders", rec.Namespace)
	}
	if rec.Operation != model.OpQuery {
		t.Errorf("operation = %q, want query", rec.Operation)
	}
	if rec.DurationMS != 150 {
		t.Errorf("duration = %d, want 150", rec.DurationMS)
	}
	if rec.CommandText != `find { filter: { status: "open" } }` {
		t.Errorf("command text = %q", rec.CommandText)
	}
	if rec.Severity != "INFO" || rec.Component != "COMMAND" || rec.Context != "conn1" {
		t.Errorf("header = %q %q %q", rec.Severity, rec.Component, rec.Context)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp, want)
	}
}

func TestParse_TextFields(t *testing.T) {
	p := NewParser()
	line := `2019-03-01T10:00:00.123+0000 I COMMAND [conn42] command shop.items appName: "MongoDB Shell" command: aggregate { aggregate: "items", pipeline: [ { $match: { qty: { $gt: 5 } } } ] } planSummary: IXSCAN { qty: 1 } keysExamined:12 docsExamined:10 cursorExhausted:1 numYields:0 nreturned:3 queryHash:ABCD1234 planCacheKey:EF567890 reslen:300 protocol:op_msg 245ms`

	rec, err := p.Parse(line, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.Operation != model.OpAggregate {
		t.Errorf("operation = %q, want aggregate", rec.Operation)
	}
	if rec.DurationMS != 245 {
		t.Errorf("duration = %d, want 245", rec.DurationMS)
	}
	if rec.PlanSummary != "IXSCAN { qty: 1 }" {
		t.Errorf("plan summary = %q", rec.PlanSummary)
	}
	if rec.QueryHash != "ABCD1234" || rec.PlanCache != "EF567890" {
		t.Errorf("hash = %q cache key = %q", rec.QueryHash, rec.PlanCache)
	}
	if rec.AppName != "MongoDB Shell" {
		t.Errorf("app name = %q", rec.AppName)
	}
	if rec.KeysExamined != 12 || rec.DocsExamined != 10 || rec.NReturned != 3 {
		t.Errorf("counters = %d/%d/%d", rec.KeysExamined, rec.DocsExamined, rec.NReturned)
	}
}

func TestParse_LegacyCtime(t *testing.T) {
	p := NewParserWithTimestamps(&timestamp.Parser{Year: 2015})
	line := `Mon Feb 23 03:20:19.670 [conn3] query test.users query: { name: "bob" } planSummary: COLLSCAN ntoreturn:0 nscanned:1000 nscannedObjects:1000 nreturned:1 reslen:64 312ms`

	rec, err := p.Parse(line, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.Operation != model.OpQuery || rec.Namespace != "test.users" {
		t.Errorf("op/ns = %q %q", rec.Operation, rec.Namespace)
	}
	if rec.DurationMS != 312 {
		t.Errorf("duration = %d, want 312", rec.DurationMS)
	}
	if rec.PlanSummary != "COLLSCAN" {
		t.Errorf("plan summary = %q, want COLLSCAN", rec.PlanSummary)
	}
	if rec.KeysExamined != 1000 || rec.DocsExamined != 1000 {
		t.Errorf("examined = %d/%d", rec.KeysExamined, rec.DocsExamined)
	}
	if rec.Timestamp.Year() != 2015 {
		t.Errorf("year = %d, want 2015", rec.Timestamp.Year())
	}
	if rec.CommandText != `{ name: "bob" }` {
		t.Errorf("command text = %q", rec.CommandText)
	}
}

func TestParse_LegacyUpdate(t *testing.T) {
	p := NewParser()
	line := `2016-05-05T12:00:00.000+0000 I WRITE [conn9] update app.users query: { _id: 7 } planSummary: IDHACK update: { $set: { seen: true } } keysExamined:1 docsExamined:1 nMatched:1 nModified:1 120ms`

	rec, err := p.Parse(line, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.Operation != model.OpUpdate {
		t.Errorf("operation = %q, want update", rec.Operation)
	}
	if rec.CommandText != `{ _id: 7 } update: { $set: { seen: true } }` {
		t.Errorf("command text = %q", rec.CommandText)
	}
	if rec.PlanSummary != "IDHACK" {
		t.Errorf("plan summary = %q", rec.PlanSummary)
	}
}

func TestParse_Structured(t *testing.T) {
	p := NewParser()
	line := `{"t":{"$date":"2024-03-01T08:15:30.123+00:00"},"s":"I","c":"COMMAND","id":51803,"ctx":"conn12","msg":"Slow query","attr":{"type":"command","ns":"shop.orders","appName":"api","command":{"find":"orders","filter":{"status":"open","total":{"$gt":{"$numberDecimal":"10"}}},"$db":"shop"},"planSummary":"COLLSCAN","keysExamined":0,"docsExamined":5000,"nreturned":20,"queryHash":"7E3A9B01","planCacheKey":"1C2D3E4F","durationMillis":180}}`

	rec, err := p.Parse(line, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.Namespace != "shop.orders" || rec.Operation != model.OpQuery {
		t.Errorf("ns/op = %q %q", rec.Namespace, rec.Operation)
	}
	if rec.DurationMS != 180 {
		t.Errorf("duration = %d, want 180", rec.DurationMS)
	}
	if rec.PlanSummary != "COLLSCAN" || rec.QueryHash != "7E3A9B01" || rec.PlanCache != "1C2D3E4F" {
		t.Errorf("plan fields = %q %q %q", rec.PlanSummary, rec.QueryHash, rec.PlanCache)
	}
	if rec.DocsExamined != 5000 || rec.NReturned != 20 {
		t.Errorf("counters = %d %d", rec.DocsExamined, rec.NReturned)
	}
	if rec.AppName != "api" || rec.Context != "conn12" || rec.Component != "COMMAND" {
		t.Errorf("meta = %q %q %q", rec.AppName, rec.Context, rec.Component)
	}
	if !strings.HasPrefix(rec.CommandText, `{"find":"orders"`) {
		t.Errorf("command text = %q", rec.CommandText)
	}
	if rec.Timestamp.Year() != 2024 || rec.Timestamp.Month() != time.March {
		t.Errorf("timestamp = %v", rec.Timestamp)
	}
}

func TestParse_StructuredOperations(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name    string
		command string
		want    model.Operation
	}{
		{"getMore", `{"getMore":{"$numberLong":"123"},"collection":"c"}`, model.OpGetMore},
		{"aggregate", `{"aggregate":"c","pipeline":[]}`, model.OpAggregate},
		{"insert", `{"insert":"c","documents":[]}`, model.OpInsert},
		{"findAndModify", `{"findAndModify":"c","query":{"a":1}}`, model.OpUpdate},
		{"delete", `{"delete":"c","deletes":[]}`, model.OpRemove},
		{"other", `{"createIndexes":"c"}`, model.OpCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := `{"t":{"$date":"2024-03-01T08:15:30.123Z"},"s":"I","c":"COMMAND","ctx":"conn1","msg":"Slow query","attr":{"type":"command","ns":"db.c","command":` + tt.command + `,"durationMillis":101}}`
			rec, err := p.Parse(line, 0)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if rec.Operation != tt.want {
				t.Errorf("operation = %q, want %q", rec.Operation, tt.want)
			}
		})
	}
}

func TestParse_NotASlowQuery(t *testing.T) {
	p := NewParser()

	lines := []string{
		"",
		"   ",
		"2024-01-01T00:00:00 I NETWORK [listener] connection accepted from 127.0.0.1:5555 #1 (1 connection now open)",
		"2024-01-01T00:00:00 I CONTROL [initandlisten] MongoDB starting : pid=1 port=27017",
		"no timestamp at all",
		`{"t":{"$date":"2024-03-01T08:15:30.123Z"},"s":"I","c":"NETWORK","ctx":"listener","msg":"Connection accepted","attr":{"remote":"127.0.0.1:5555"}}`,
		`{not json`,
	}

	for _, line := range lines {
		_, err := p.Parse(line, 0)
		if !errors.Is(err, ErrNotASlowQuery) {
			t.Errorf("Parse(%q) err = %v, want ErrNotASlowQuery", line, err)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name string
		line string
	}{
		{"missing duration", `2024-01-01T00:00:00 I COMMAND [conn1] command mydb.orders command: find { filter: { status: "open" } }`},
		{"negative duration", `2024-01-01T00:00:00 I COMMAND [conn1] command mydb.orders command: find { } durationMillis:-5`},
		{"non-numeric duration", `2024-01-01T00:00:00 I COMMAND [conn1] command mydb.orders command: find { } durationMillis:abc`},
		{"negative legacy duration", `2024-01-01T00:00:00 I COMMAND [conn1] query mydb.orders query: { a: 1 } -5ms`},
		{"missing namespace", `2024-01-01T00:00:00 I COMMAND [conn1] command durationMillis:5`},
		{"structured missing ns", `{"t":{"$date":"2024-03-01T08:15:30.123Z"},"msg":"Slow query","attr":{"durationMillis":5}}`},
		{"structured missing duration", `{"t":{"$date":"2024-03-01T08:15:30.123Z"},"msg":"Slow query","attr":{"ns":"db.c"}}`},
		{"structured negative duration", `{"msg":"Slow query","attr":{"ns":"db.c","durationMillis":-1}}`},
		{"structured string duration", `{"msg":"Slow query","attr":{"ns":"db.c","durationMillis":"slow"}}`},
		{"truncated structured", `{"t":{"$date":"2024-03-01T08:15:30.123Z"},"msg":"Slow query","attr":{"ns":"db.c"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.line, 0)
			if !errors.Is(err, ErrMalformedRecord) {
				t.Fatalf("err = %v, want ErrMalformedRecord", err)
			}
			var me *MalformedError
			if !errors.As(err, &me) || me.Line == "" {
				t.Errorf("err = %#v, want *MalformedError carrying the line", err)
			}
		})
	}
}

func TestParse_StructuredDurationType(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name       string
		duration   string
		want       int64
		wantReason string
	}{
		{"integer", `180`, 180, ""},
		{"integral double", `180.0`, 180, ""},
		{"number long", `{"$numberLong":"180"}`, 180, ""},
		{"numeric string", `"12"`, 0, "non-numeric duration"},
		{"huge double", `1e30`, 0, "out of range"},
		{"huge negative double", `-1e30`, 0, "out of range"},
		{"fractional", `12.5`, 0, "non-numeric duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := `{"msg":"Slow query","attr":{"ns":"db.c","durationMillis":` + tt.duration + `}}`
			rec, err := p.Parse(line, 0)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("Parse: %v", err)
				}
				if rec.DurationMS != tt.want {
					t.Errorf("DurationMS = %d, want %d", rec.DurationMS, tt.want)
				}
				return
			}
			var me *MalformedError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *MalformedError", err)
			}
			if !strings.Contains(me.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want it to contain %q", me.Reason, tt.wantReason)
			}
		})
	}
}

func TestParse_Deterministic(t *testing.T) {
	p := NewParser()

	first, err := p.Parse(scenarioLine, 20)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := p.Parse(scenarioLine, 20)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if again != first {
			t.Fatalf("Parse is not deterministic: %+v != %+v", again, first)
		}
	}
}

func TestParse_Truncation(t *testing.T) {
	p := NewParser()

	rec, err := p.Parse(scenarioLine, 10)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.CommandText != "find { fil" {
		t.Errorf("command text = %q, want %q", rec.CommandText, "find { fil")
	}
	if rec.FullCommandText != `find { filter: { status: "open" } }` {
		t.Errorf("full command text = %q", rec.FullCommandText)
	}

	unbounded, _ := p.Parse(scenarioLine, 0)
	if unbounded.CommandText != unbounded.FullCommandText {
		t.Errorf("charLimit 0 should not truncate: %q", unbounded.CommandText)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"hello", 0, "hello"},
		{"hello", -1, "hello"},
		{"", 3, ""},
	}

	for _, tt := range tests {
		if got := Truncate(tt.in, tt.limit); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
