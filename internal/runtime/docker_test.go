package runtime

import "testing"

func TestAggregateLayerPercent(t *testing.T) {
	tests := []struct {
		name   string
		layers map[string]*pullEvent
		want   int
	}{
		{name: "empty", layers: map[string]*pullEvent{}, want: 0},
		{
			name: "half done across two layers",
			layers: map[string]*pullEvent{
				"a": {Progress: struct {
					Current int64 `json:"current"`
					Total   int64 `json:"total"`
				}{Current: 50, Total: 100}},
				"b": {Progress: struct {
					Current int64 `json:"current"`
					Total   int64 `json:"total"`
				}{Current: 50, Total: 100}},
			},
			want: 50,
		},
		{
			name: "complete",
			layers: map[string]*pullEvent{
				"a": {Progress: struct {
					Current int64 `json:"current"`
					Total   int64 `json:"total"`
				}{Current: 100, Total: 100}},
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := aggregateLayerPercent(tt.layers)
			if got != tt.want {
				t.Errorf("aggregateLayerPercent() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSplitTimestamp(t *testing.T) {
	ts, text := splitTimestamp("2024-01-01T00:00:00.000000000Z hello world")
	if text != "hello world" {
		t.Errorf("text = %q, want %q", text, "hello world")
	}
	if ts.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	_, text = splitTimestamp("no timestamp here")
	if text != "no timestamp here" {
		t.Errorf("text = %q, want fallback to full line", text)
	}
}
