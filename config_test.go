package aurora_test

import (
	"testing"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/tests/common"
	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	common.Suite
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) TestGetConfig() {
	_ = s.Context.SetConfig("TestGetConfig", "foo")
	_ = s.Context.SetConfig("TestGetConfigNested/foo", "bar")

	tests := []struct {
		description string
		key         string
		value       string
		expectedErr bool
	}{
		{"empty key", "", "", true},
		{"missing key", "bar", "", true},
		{"key present", "TestGetConfig", "foo", false},
		{"nested key present", "TestGetConfigNested/foo", "bar", false},
	}

	for _, test := range tests {
		msg := testMsgFunc(test.description)
		val, err := s.Context.GetConfig(test.key)
		s.Equal(test.value, val, msg("values should match"))
		if test.expectedErr {
			s.Error(err, msg("should error"))
		} else {
			s.NoError(err, msg("should not error"))
		}
	}
}

func (s *ConfigTestSuite) TestSetConfig() {
	tests := []struct {
		description string
		key         string
		value       string
		expectedErr bool
	}{
		{"empty key", "", "bar", true},
		{"empty value", "bar", "", false},
		{"key and value", "foo", "bar", false},
		{"already set", "foo", "baz", false},
		{"nested key", "foobar/baz", "bang", false},
	}

	for _, test := range tests {
		err := s.Context.SetConfig(test.key, test.value)
		if test.expectedErr {
			s.Error(err, test.description)
		} else {
			s.NoError(err, test.description)
		}
	}
}

func (s *ConfigTestSuite) TestConfigFloat() {
	_ = s.Context.SetConfig(aurora.ConfigInventoryDivisor, "4")
	_ = s.Context.SetConfig(aurora.ConfigCPUMultiplier, "lots")

	s.Equal(4.0, s.Context.ConfigFloat(aurora.ConfigInventoryDivisor, 1))
	s.Equal(8.0, s.Context.ConfigFloat(aurora.ConfigCPUMultiplier, 8), "unparsable falls back")
	s.Equal(2.0, s.Context.ConfigFloat("missing", 2), "missing falls back")
}

func (s *ConfigTestSuite) TestToBool() {
	s.True(aurora.ToBool("true"))
	s.True(aurora.ToBool("1"))
	s.False(aurora.ToBool("nope"))
	s.False(aurora.ToBool(""))
}
