package gateway

import (
	"context"
	"strings"
	"testing"
)

func collectStream(t *testing.T, body string) []string {
	t.Helper()
	out := make(chan string, 64)
	done := make(chan struct{})
	var got []string
	go func() {
		for s := range out {
			got = append(got, s)
		}
		close(done)
	}()
	decodeEventStream(context.Background(), strings.NewReader(body), out)
	close(out)
	<-done
	return got
}

func TestDecodeEventStream(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "single delta then done",
			body: "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\ndata: [DONE]\n",
			want: []string{"hi"},
		},
		{
			name: "multiple deltas",
			body: "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n" +
				"data: [DONE]\n",
			want: []string{"a", "b"},
		},
		{
			name: "comments and keepalives ignored",
			body: ": keepalive\n\nevent: ping\ndata: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\ndata: [DONE]\n",
			want: []string{"x"},
		},
		{
			name: "malformed frame dropped, stream continues",
			body: "data: {not json\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\ndata: [DONE]\n",
			want: []string{"ok"},
		},
		{
			name: "empty delta suppressed",
			body: "data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\ndata: [DONE]\n",
			want: nil,
		},
		{
			name: "frames after sentinel not emitted",
			body: "data: [DONE]\ndata: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n",
			want: nil,
		},
		{
			name: "missing choices dropped",
			body: "data: {\"choices\":[]}\ndata: [DONE]\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collectStream(t, tt.body)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("fragment %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
