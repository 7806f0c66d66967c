// Package hostport splits and completes network addresses of the form
// "host", "host:port", "[host]" or "[ipv6-host%zone]:port".
package hostport

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// Split splits an address into host and port. Port is empty when the address
// has none. Unlike net.SplitHostPort a missing port is not an error.
func Split(hostport string) (host, port string, err error) {
	if hostport == "" {
		return "", "", nil
	}

	lb, rb := strings.Index(hostport, "["), strings.Index(hostport, "]")
	if lb != strings.LastIndex(hostport, "[") {
		return "", "", errors.New("too many '['")
	}
	if rb != strings.LastIndex(hostport, "]") {
		return "", "", errors.New("too many ']'")
	}

	var rest string
	switch {
	case lb > 0:
		return "", "", errors.New("nothing can come before '['")
	case lb == 0 && rb == -1:
		return "", "", errors.New("missing ']'")
	case lb == 0:
		host, rest = hostport[1:rb], hostport[rb+1:]
	case rb > -1:
		return "", "", errors.New("missing '['")
	default:
		i := strings.LastIndex(hostport, ":")
		if i < 0 {
			return hostport, "", nil
		}
		host, rest = hostport[:i], hostport[i:]
	}

	if rest == "" {
		return host, "", nil
	}
	if strings.LastIndex(rest, ":") != 0 {
		return "", "", errors.New("poorly separated or formatted port")
	}
	return host, rest[1:], nil
}

// WithDefault returns the address with port filled in from defaultPort when
// it has none. The port must be numeric.
func WithDefault(hostport, defaultPort string) (string, error) {
	host, port, err := Split(hostport)
	if err != nil {
		return "", err
	}
	if port == "" {
		port = defaultPort
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return "", errors.New("invalid port " + strconv.Quote(port))
	}
	return net.JoinHostPort(host, port), nil
}
