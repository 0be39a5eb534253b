//go:build integration
// +build integration

package test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/MrEthical07/authsdk"
	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/testkit"
	"github.com/MrEthical07/authsdk/user"
)

func TestConcurrentSignInsConvergeOnOnePrimary(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, nil)

	const workers = 16
	const email = "race@example.com"
	inputs := make([]authsdk.ProviderInput, workers)
	for i := range inputs {
		inputs[i] = c.Provider.Add(fmt.Sprintf("g-race-%d", i), email, true)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)
	results := make(chan authsdk.SignInUpResult, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := c.engine(i).ThirdPartySignInUpPOST(ctx, "public", testkit.ProviderID, inputs[i], nil)
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("sign in: %v", err)
	}
	primaries := map[string]struct{}{}
	for res := range results {
		if res.Status != authsdk.StatusOK {
			t.Fatalf("status %s (%s)", res.Status, res.ErrorCode)
		}
		primaries[res.User.ID] = struct{}{}
	}
	if len(primaries) != 1 {
		t.Fatalf("expected one primary user, got %d", len(primaries))
	}

	users, err := c.Engine.ListUsersByAccountInfo(ctx, "public", user.AccountInfo{Email: email}, false)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || !users[0].IsPrimaryUser {
		t.Fatalf("expected a single primary user, got %+v", users)
	}
	if got := len(users[0].LoginMethods); got != workers {
		t.Fatalf("expected %d login methods, got %d", workers, got)
	}
}

func TestConcurrentLinkAccountsSingleWinner(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, func(cfg *authsdk.Config) {
		cfg.AccountLinking.ShouldAutomaticallyLink = false
	})

	primaries := make([]string, 2)
	for i := range primaries {
		res := c.SignUp(t, "public", fmt.Sprintf("g-owner-%d", i), fmt.Sprintf("owner-%d@example.com", i))
		created, err := c.Engine.Core().CreatePrimaryUser(ctx, res.RecipeUserID)
		if err != nil || !created.Status.OK() {
			t.Fatalf("create primary: %v %s", err, created.Status)
		}
		primaries[i] = created.User.ID
	}
	loner := c.SignUp(t, "public", "g-loner", "loner@example.com")

	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]core.LinkAccountsResult, len(primaries))
	errs := make([]error, len(primaries))
	for i := range primaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = c.engine(i).LinkAccounts(ctx, loner.RecipeUserID, primaries[i])
		}(i)
	}
	close(start)
	wg.Wait()

	winner := -1
	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("link %d: %v", i, errs[i])
		}
		switch {
		case res.Status.OK():
			if winner != -1 {
				t.Fatalf("both links succeeded")
			}
			winner = i
		case res.Status.IsRaceSignal():
		default:
			t.Fatalf("unexpected link status %s", res.Status)
		}
	}
	if winner == -1 {
		t.Fatalf("no link succeeded")
	}

	u, err := c.peer.GetUser(ctx, string(loner.RecipeUserID))
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u == nil || u.ID != primaries[winner] {
		t.Fatalf("recipe user resolved to %+v, want primary %s", u, primaries[winner])
	}
}
