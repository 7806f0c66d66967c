package cli_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ComputerNetworks-UFRGS/Aurora/internal/cli"
	"github.com/stretchr/testify/suite"
)

type ClientSuite struct {
	suite.Suite
	Server   *httptest.Server
	Client   *cli.Client
	Requests []*http.Request
	Bodies   []map[string]interface{}
}

func TestClient(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.Requests = nil
	s.Bodies = nil
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Requests = append(s.Requests, r)
		body := map[string]interface{}{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.Bodies = append(s.Bodies, body)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/slices" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":"b"},{"id":"a"}]`))
		case r.URL.Path == "/slices/a" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"id":"a","state":"created"}`))
		case r.URL.Path == "/slices/a/deploy":
			w.Header().Set(cli.JobHeader, "job1")
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"id":"a"}`))
		case r.URL.Path == "/slices/a" && r.Method == http.MethodDelete:
			w.Header().Set(cli.JobHeader, "job2")
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"id":"a"}`))
		case r.URL.Path == "/slices/a" && r.Method == http.MethodPatch:
			_, _ = w.Write([]byte(`{"id":"a","name":"renamed"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found","code":404}`))
		}
	}))

	var err error
	s.Client, err = cli.NewClient(s.Server.URL)
	s.Require().NoError(err)
}

func (s *ClientSuite) TearDownTest() {
	s.Server.Close()
}

func (s *ClientSuite) TestNewClient() {
	tests := []struct {
		description string
		address     string
		expectedErr bool
	}{
		{"valid", "http://127.0.0.1:18000", false},
		{"with path", "http://127.0.0.1:18000/api/", false},
		{"no scheme", "127.0.0.1:18000", true},
		{"empty", "", true},
	}
	for _, test := range tests {
		_, err := cli.NewClient(test.address)
		s.Equal(test.expectedErr, err != nil, test.description)
	}

	c, _ := cli.NewClient("http://127.0.0.1:18000/api/")
	s.Equal("http://127.0.0.1:18000/api/slices/a", c.URLString("/slices/a"))
}

func (s *ClientSuite) TestGet() {
	j, err := s.Client.Get(context.Background(), "slice", "slices/a")
	s.NoError(err)
	s.Equal("created", j.Field("state"))

	js, err := s.Client.GetMany(context.Background(), "slices", "slices")
	s.NoError(err)
	s.Len(js, 2)
}

func (s *ClientSuite) TestPost() {
	j, job, err := s.Client.Post(context.Background(), "deploy", "slices/a/deploy", map[string]string{"program": "balanced"})
	s.NoError(err)
	s.Equal("a", j.ID())
	s.Equal("job1", job)
	s.Equal("application/json", s.Requests[0].Header.Get("Content-Type"))
	s.Equal("balanced", s.Bodies[0]["program"])
}

func (s *ClientSuite) TestPatchAndDel() {
	j, err := s.Client.Patch(context.Background(), "slice", "slices/a", map[string]string{"name": "renamed"})
	s.NoError(err)
	s.Equal("renamed", j.Field("name"))

	_, job, err := s.Client.Del(context.Background(), "slice", "slices/a")
	s.NoError(err)
	s.Equal("job2", job)
}

func (s *ClientSuite) TestError() {
	_, err := s.Client.Get(context.Background(), "slice", "slices/missing")
	s.Require().Error(err)
	httpErr, ok := err.(*cli.ErrorHTTP)
	s.Require().True(ok)
	s.Equal(http.StatusNotFound, httpErr.Code)
	s.Equal("not found", httpErr.Message)
	s.Contains(err.Error(), "slice")
}
