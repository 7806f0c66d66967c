package aurora_test

import (
	"errors"
	"testing"

	"github.com/ComputerNetworks-UFRGS/Aurora/internal/tests/common"
	"github.com/stretchr/testify/suite"
)

type ContextTestSuite struct {
	common.Suite
}

func TestContextTestSuite(t *testing.T) {
	suite.Run(t, new(ContextTestSuite))
}

func (s *ContextTestSuite) TestNewContext() {
	s.NotNil(s.Context)
	s.Equal(s.KV, s.Context.KV())
}

func (s *ContextTestSuite) TestIsKeyNotFound() {
	_, err := s.KV.Get(s.PrefixKey("some-random-non-existent-key"))

	s.Error(err)
	s.True(s.Context.IsKeyNotFound(err))

	err = errors.New("some-random-non-key-not-found-error")
	s.False(s.Context.IsKeyNotFound(err))
}
