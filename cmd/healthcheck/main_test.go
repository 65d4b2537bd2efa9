package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	assert.NoError(t, check(context.Background(), srv.URL, time.Second))

	status.Store(http.StatusServiceUnavailable)
	assert.ErrorContains(t, check(context.Background(), srv.URL, time.Second), "503")

	srv.Close()
	assert.Error(t, check(context.Background(), srv.URL, time.Second))
}
