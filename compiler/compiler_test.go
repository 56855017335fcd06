package compiler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/compile", r.URL.Path)

		var req compileRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []byte("class Foo {}"), req.Sources["Foo.java"])

		json.NewEncoder(w).Encode(compileResponse{
			Classes: map[string][]byte{"Foo.class": {0xca, 0xfe, 0xba, 0xbe}},
		})
	}))
	defer server.Close()

	c := NewRemoteCompiler(server.URL)
	classes, err := c.Compile(map[string][]byte{"Foo.java": []byte("class Foo {}")})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe, 0xba, 0xbe}, classes["Foo.class"])
}

func TestCompileError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(compileResponse{Error: "Foo.java:1: ';' expected"})
	}))
	defer server.Close()

	c := NewRemoteCompiler(server.URL)
	_, err := c.Compile(map[string][]byte{"Foo.java": []byte("class Foo {")})
	require.ErrorContains(t, err, "';' expected")
}
