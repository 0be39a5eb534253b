//go:build integration
// +build integration

package test

import (
	"testing"

	"github.com/MrEthical07/authsdk"
	"github.com/MrEthical07/authsdk/internal/testkit"
)

// cluster is two engines sharing one redis and one provider, standing in
// for two processes of the same deployment.
type cluster struct {
	*testkit.Env
	peer *authsdk.Engine
}

func newCluster(t *testing.T, mutate func(*authsdk.Config)) *cluster {
	t.Helper()
	env := testkit.New(t, mutate)
	return &cluster{
		Env:  env,
		peer: testkit.Build(t, env.Config, env.Redis, env.Provider),
	}
}

// engine alternates between the two engines.
func (c *cluster) engine(i int) *authsdk.Engine {
	if i%2 == 0 {
		return c.Engine
	}
	return c.peer
}
