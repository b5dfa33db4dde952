package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sw33tLie/xtmscope/pkg/router"
)

type recorder struct {
	got []router.Request
	env router.Envelope
}

func (r *recorder) Dispatch(ctx context.Context, req router.Request) router.Envelope {
	r.got = append(r.got, req)
	return r.env
}

func request(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestScanToolsDispatch(t *testing.T) {
	rec := &recorder{env: router.Envelope{Success: true, Data: map[string]int{"scanTime": 1}}}
	srv := New(rec, "test")
	ctx := context.Background()

	tests := []struct {
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		typ     router.MessageType
	}{
		{srv.scan(router.ScanPage), router.ScanPage},
		{srv.scan(router.ScanAll), router.ScanAll},
		{srv.scan(router.ScanOtherPlatform), router.ScanOtherPlatform},
	}
	for _, tt := range tests {
		res, err := tt.handler(ctx, request(map[string]interface{}{
			"content":                 "APT28",
			"html":                    true,
			"include_attack_patterns": true,
		}))
		if err != nil || res.IsError {
			t.Fatalf("%s: unexpected result %v %+v", tt.typ, err, res)
		}
		got := rec.got[len(rec.got)-1]
		if got.Type != tt.typ {
			t.Fatalf("dispatched %s, want %s", got.Type, tt.typ)
		}
		var p router.ScanPayload
		if err := json.Unmarshal(got.Payload, &p); err != nil {
			t.Fatal(err)
		}
		if p.Content != "APT28" || !p.HTML || !p.IncludeAttackPatterns {
			t.Fatalf("unexpected payload %+v", p)
		}
		if !strings.Contains(resultText(res), `"scanTime": 1`) {
			t.Fatalf("unexpected text %q", resultText(res))
		}
	}
}

func TestScanRequiresContent(t *testing.T) {
	rec := &recorder{}
	srv := New(rec, "test")
	res, err := srv.scan(router.ScanPage)(context.Background(), request(map[string]interface{}{}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || len(rec.got) != 0 {
		t.Fatal("missing content should fail before dispatching")
	}
}

func TestFailedEnvelopeIsToolError(t *testing.T) {
	rec := &recorder{env: router.Envelope{Success: false, Error: "platform not found: nope"}}
	srv := New(rec, "test")
	res, err := srv.testConnection(context.Background(), request(map[string]interface{}{"platform_id": "nope"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || resultText(res) != "platform not found: nope" {
		t.Fatalf("unexpected result %+v", res)
	}
	if string(rec.got[0].Payload) != `{"platformId":"nope"}` {
		t.Fatalf("unexpected payload %s", rec.got[0].Payload)
	}
}

func TestCacheTools(t *testing.T) {
	rec := &recorder{env: router.Envelope{Success: true, Data: "ok"}}
	srv := New(rec, "test")
	ctx := context.Background()

	if _, err := srv.cacheStats(ctx, request(nil)); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.refreshCache(ctx, request(nil)); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.clearCache(ctx, request(map[string]interface{}{"platform_type": "opencti"})); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.cachedEntity(ctx, request(map[string]interface{}{
		"platform_type": "openaev",
		"platform_id":   "aev",
		"entity_id":     "a1",
	})); err != nil {
		t.Fatal(err)
	}

	want := []router.MessageType{router.GetCacheStats, router.RefreshCache, router.ClearPlatformCache, router.GetCachedEntity}
	if len(rec.got) != len(want) {
		t.Fatalf("dispatched %d messages", len(rec.got))
	}
	for i, typ := range want {
		if rec.got[i].Type != typ {
			t.Errorf("message %d: %s, want %s", i, rec.got[i].Type, typ)
		}
	}
	if string(rec.got[2].Payload) != `{"platformType":"opencti"}` {
		t.Errorf("unexpected clear payload %s", rec.got[2].Payload)
	}
}
