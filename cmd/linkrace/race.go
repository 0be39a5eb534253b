package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/authsdk"
	"github.com/MrEthical07/authsdk/user"
)

const (
	providerID = "race"
	tenantID   = "public"
	password   = "race-password-1"
)

// provider encodes the provider user in the code as "<user id>|<email>".
// Every provider email is verified.
type provider struct{}

func (provider) ResolveUser(_ context.Context, _ string, in authsdk.ProviderInput) (authsdk.ProviderUser, error) {
	id, email, ok := strings.Cut(in.Code, "|")
	if !ok {
		return authsdk.ProviderUser{}, fmt.Errorf("malformed code %q", in.Code)
	}
	return authsdk.ProviderUser{ThirdPartyUserID: id, Email: email, EmailVerified: true}, nil
}

func emailFor(i int) string { return fmt.Sprintf("racer-%d@example.com", i) }

type job struct {
	kind  string
	email int
	n     int
}

// race signs every email up with email/password first, then races its
// verification against the third-party sign-ins for the same email.
func race(ctx context.Context, engine *authsdk.Engine, opts options) (map[string]*recorder, error) {
	stats := map[string]*recorder{
		"thirdparty": newRecorder(),
		"signup":     newRecorder(),
		"verify":     newRecorder(),
	}

	signups := make([]job, 0, opts.emails)
	for i := 0; i < opts.emails; i++ {
		signups = append(signups, job{kind: "signup", email: i})
	}
	recipeUsers := make([]user.RecipeUserID, opts.emails)
	if err := runJobs(ctx, opts.concurrency, signups, func(ctx context.Context, j job) error {
		res, err := stats["signup"].time(func() (authsdk.SignInUpResult, error) {
			return engine.EmailPasswordSignUpPOST(ctx, authsdk.EmailPasswordInput{
				TenantID: tenantID,
				Email:    emailFor(j.email),
				Password: password,
			})
		})
		if err != nil {
			return err
		}
		recipeUsers[j.email] = res.RecipeUserID
		return nil
	}); err != nil {
		return nil, err
	}

	mixed := make([]job, 0, opts.emails*(opts.methods+1))
	for i := 0; i < opts.emails; i++ {
		for n := 0; n < opts.methods; n++ {
			mixed = append(mixed, job{kind: "thirdparty", email: i, n: n})
		}
		mixed = append(mixed, job{kind: "verify", email: i})
	}

	// Third-party sign-ups that land before the verification are refused
	// and retried once every email is verified.
	var (
		mu      sync.Mutex
		refused []job
	)
	thirdParty := func(ctx context.Context, j job) error {
		code := fmt.Sprintf("racer-%d-%d|%s", j.email, j.n, emailFor(j.email))
		res, err := stats["thirdparty"].time(func() (authsdk.SignInUpResult, error) {
			return engine.ThirdPartySignInUpPOST(ctx, tenantID, providerID, authsdk.ProviderInput{Code: code}, nil)
		})
		if err == nil && res.Status != authsdk.StatusOK {
			mu.Lock()
			refused = append(refused, j)
			mu.Unlock()
		}
		return err
	}

	err := runJobs(ctx, opts.concurrency, mixed, func(ctx context.Context, j job) error {
		if j.kind != "verify" {
			return thirdParty(ctx, j)
		}
		_, err := stats["verify"].time(func() (authsdk.SignInUpResult, error) {
			_, err := engine.VerifyEmail(ctx, tenantID, recipeUsers[j.email], emailFor(j.email), nil)
			return authsdk.SignInUpResult{Status: authsdk.StatusOK}, err
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	retry := refused
	refused = nil
	if err := runJobs(ctx, opts.concurrency, retry, thirdParty); err != nil {
		return nil, err
	}
	if len(refused) > 0 {
		return nil, fmt.Errorf("%d third-party sign-ins still refused after verification", len(refused))
	}
	return stats, nil
}

func runJobs(ctx context.Context, concurrency int, jobs []job, fn func(context.Context, job) error) error {
	var (
		wg       sync.WaitGroup
		cursor   int64
		firstErr error
		once     sync.Once
	)
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(jobs) || ctx.Err() != nil {
					return
				}
				if err := fn(ctx, jobs[i]); err != nil {
					once.Do(func() { firstErr = err })
					return
				}
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// check lists the users of every email and reports emails that are split
// across users or whose user is not primary.
func check(ctx context.Context, engine *authsdk.Engine, opts options) ([]string, error) {
	var violations []string
	for i := 0; i < opts.emails; i++ {
		users, err := engine.ListUsersByAccountInfo(ctx, tenantID, user.AccountInfo{Email: emailFor(i)}, false)
		if err != nil {
			return nil, err
		}
		switch {
		case len(users) != 1:
			violations = append(violations, fmt.Sprintf("%s: %d users", emailFor(i), len(users)))
		case !users[0].IsPrimaryUser:
			violations = append(violations, fmt.Sprintf("%s: user %s is not primary", emailFor(i), users[0].ID))
		case len(users[0].LoginMethods) != opts.methods+1:
			violations = append(violations, fmt.Sprintf("%s: %d of %d login methods linked", emailFor(i), len(users[0].LoginMethods), opts.methods+1))
		}
	}
	return violations, nil
}
