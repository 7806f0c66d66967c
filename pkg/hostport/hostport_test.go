package hostport_test

import (
	"testing"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/hostport"
	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		hostport, host, port string
		expectedErr          bool
	}{
		{"", "", "", false},
		{"localhost", "localhost", "", false},
		{"localhost:1234", "localhost", "1234", false},
		{"[localhost]", "localhost", "", false},
		{"[localhost]:1234", "localhost", "1234", false},
		{"[2001:db8::7348]:443", "2001:db8::7348", "443", false},
		{":1234", "", "1234", false},
		{"foo:1234:bar", "foo:1234", "bar", false},
		{"[localhost", "", "", true},
		{"localhost]", "", "", true},
		{"x[localhost]", "", "", true},
		{"[loca[lhost]:1234", "", "", true},
		{"[localhost]:1234]", "", "", true},
		{"[localhost]1234", "", "", true},
	}

	for _, test := range tests {
		host, port, err := hostport.Split(test.hostport)
		if test.expectedErr {
			assert.Error(t, err, test.hostport)
			continue
		}
		assert.NoError(t, err, test.hostport)
		assert.Equal(t, test.host, host, test.hostport)
		assert.Equal(t, test.port, port, test.hostport)
	}
}

func TestWithDefault(t *testing.T) {
	tests := []struct {
		hostport, expected string
		expectedErr        bool
	}{
		{"127.0.0.1", "127.0.0.1:11300", false},
		{"127.0.0.1:1", "127.0.0.1:1", false},
		{":18000", ":18000", false},
		{"[::1]", "[::1]:11300", false},
		{"host:http", "", true},
		{"host:70000", "", true},
		{"[host", "", true},
	}

	for _, test := range tests {
		addr, err := hostport.WithDefault(test.hostport, "11300")
		if test.expectedErr {
			assert.Error(t, err, test.hostport)
			continue
		}
		assert.NoError(t, err, test.hostport)
		assert.Equal(t, test.expected, addr, test.hostport)
	}
}
