package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestZZProbe(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.Write([]byte("<html>hi</html>"))
	}))
	defer srv.Close()
	f := NewHTTPFetcher("test-agent", 5*time.Second)
	body, err := f.Get(context.Background(), srv.URL+"/jobs")
	fmt.Printf("PROBE err=%v hits=%d body=%q\n", err, hits, string(body))
}
