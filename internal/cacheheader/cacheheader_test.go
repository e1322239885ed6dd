package cacheheader

import "testing"

func TestClassifyXCache(t *testing.T) {
	cases := []struct {
		headers map[string]string
		want    Status
	}{
		{map[string]string{"X-Cache": "HIT from varnish"}, HIT},
		{map[string]string{"X-Cache": "MISS"}, MISS},
		{map[string]string{"CF-Cache-Status": "DYNAMIC"}, Dynamic},
		{map[string]string{"CF-Cache-Status": "BYPASS"}, Dynamic},
		{map[string]string{}, Unknown},
		{map[string]string{"X-Cache-Hits": "3"}, HIT},
		{map[string]string{"X-Cache-Hits": "0"}, MISS},
		{map[string]string{"Age": "120"}, HIT},
		{map[string]string{"Age": "0"}, Unknown},
		{map[string]string{"Content-Type": "text/html"}, Unknown},
	}
	for _, c := range cases {
		if got := Classify(c.headers); got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.headers, got, c.want)
		}
	}
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	got := Classify(map[string]string{"x-cache": "hit"})
	if got != HIT {
		t.Errorf("Classify lowercase header = %v, want HIT", got)
	}
}
