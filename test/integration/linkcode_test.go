// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/linkgate/linkgate/internal/linkcode"
	lcpostgres "github.com/linkgate/linkgate/internal/linkcode/postgres"
	"github.com/linkgate/linkgate/internal/store"
)

var _ = Describe("Postgres link code repositories", Ordered, func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		container *tcpostgres.PostgresContainer
		pool      *pgxpool.Pool
		codes     *lcpostgres.CodeRepository
		accounts  *lcpostgres.AccountRepository
		links     *lcpostgres.LinkRepository
	)

	BeforeAll(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Minute)

		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:18-alpine",
			tcpostgres.WithDatabase("linkgate_test"),
			tcpostgres.WithUsername("linkgate"),
			tcpostgres.WithPassword("linkgate"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())

		codes = lcpostgres.NewCodeRepository(pool)
		accounts = lcpostgres.NewAccountRepository(pool)
		links = lcpostgres.NewLinkRepository(pool)
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			Expect(container.Terminate(context.Background())).To(Succeed())
		}
		cancel()
	})

	newCode := func(code, identity string, ttl time.Duration) *linkcode.LinkCode {
		GinkgoHelper()
		lc, err := linkcode.NewLinkCode(code, identity, time.Now().Add(ttl))
		Expect(err).NotTo(HaveOccurred())
		return lc
	}

	Describe("code redemption", func() {
		It("consumes a valid code exactly once", func() {
			Expect(codes.Create(ctx, newCode("100001", "alice", time.Minute))).To(Succeed())

			principal := uuid.New()
			Expect(codes.Redeem(ctx, "alice", "100001", principal, time.Now())).To(Succeed())

			err := codes.Redeem(ctx, "alice", "100001", uuid.New(), time.Now())
			Expect(errors.Is(err, linkcode.ErrNotFound)).To(BeTrue())
		})

		It("matches the identity case-insensitively", func() {
			Expect(codes.Create(ctx, newCode("100002", "Bob", time.Minute))).To(Succeed())

			Expect(codes.Redeem(ctx, "BOB", "100002", uuid.New(), time.Now())).To(Succeed())
		})

		It("rejects a code owned by another identity", func() {
			Expect(codes.Create(ctx, newCode("100003", "carol", time.Minute))).To(Succeed())

			err := codes.Redeem(ctx, "dave", "100003", uuid.New(), time.Now())
			Expect(errors.Is(err, linkcode.ErrNotFound)).To(BeTrue())

			// Still redeemable by its owner.
			Expect(codes.Redeem(ctx, "carol", "100003", uuid.New(), time.Now())).To(Succeed())
		})

		It("rejects an expired code", func() {
			Expect(codes.Create(ctx, newCode("100004", "erin", -time.Minute))).To(Succeed())

			err := codes.Redeem(ctx, "erin", "100004", uuid.New(), time.Now())
			Expect(errors.Is(err, linkcode.ErrNotFound)).To(BeTrue())
		})

		It("yields exactly one success under concurrent redemption of the same code", func() {
			// Repeated rounds shake out different goroutine interleavings;
			// one lucky schedule is not enough to trust the row lock.
			const (
				rounds  = 10
				workers = 16
			)
			for round := range rounds {
				code := fmt.Sprintf("1001%02d", round)
				Expect(codes.Create(ctx, newCode(code, "frank", time.Minute))).To(Succeed())

				var wg sync.WaitGroup
				results := make([]error, workers)
				for i := range workers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						defer GinkgoRecover()
						results[i] = codes.Redeem(ctx, "frank", code, uuid.New(), time.Now())
					}()
				}
				wg.Wait()

				successes := 0
				for _, err := range results {
					if err == nil {
						successes++
					} else {
						Expect(errors.Is(err, linkcode.ErrNotFound)).To(BeTrue(),
							"losers must observe not-found, got: %v", err)
					}
				}
				Expect(successes).To(Equal(1), "round %d", round)
			}
		})

		It("does not serialize redemptions of different codes", func() {
			const pairs = 8
			for i := range pairs {
				identity := fmt.Sprintf("user%02d", i)
				Expect(codes.Create(ctx, newCode(fmt.Sprintf("2000%02d", i), identity, time.Minute))).To(Succeed())
			}

			var wg sync.WaitGroup
			errs := make([]error, pairs)
			for i := range pairs {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					identity := fmt.Sprintf("user%02d", i)
					errs[i] = codes.Redeem(ctx, identity, fmt.Sprintf("2000%02d", i), uuid.New(), time.Now())
				}()
			}
			wg.Wait()

			for i := range pairs {
				Expect(errs[i]).NotTo(HaveOccurred())
			}
		})

		It("purges only expired codes", func() {
			Expect(codes.Create(ctx, newCode("300001", "gone", -time.Minute))).To(Succeed())
			Expect(codes.Create(ctx, newCode("300002", "kept", time.Hour))).To(Succeed())

			removed, err := codes.DeleteExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeNumerically(">=", 1))

			Expect(codes.Redeem(ctx, "kept", "300002", uuid.New(), time.Now())).To(Succeed())
		})
	})

	Describe("account registration checks", func() {
		It("reports registered identities case-insensitively", func() {
			_, err := pool.Exec(ctx, `INSERT INTO accounts (mc_username) VALUES ('grace')`)
			Expect(err).NotTo(HaveOccurred())

			exists, err := accounts.Exists(ctx, "GRACE")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())

			exists, err = accounts.Exists(ctx, "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})

	Describe("account links", func() {
		It("upserts the identity to principal link", func() {
			first := uuid.New()
			Expect(links.Upsert(ctx, "heidi", first)).To(Succeed())

			second := uuid.New()
			Expect(links.Upsert(ctx, "HEIDI", second)).To(Succeed())

			var got uuid.UUID
			err := pool.QueryRow(ctx,
				`SELECT mc_uuid FROM account_links WHERE mc_username = 'heidi'`).Scan(&got)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(second))
		})
	})

	Describe("store level flow", func() {
		It("issues a code and redeems it through the store", func() {
			codeStore, err := linkcode.NewStore(codes, accounts)
			Expect(err).NotTo(HaveOccurred())

			lc, err := codeStore.Issue(ctx, "ivan", time.Minute)
			Expect(err).NotTo(HaveOccurred())

			result := codeStore.Redeem(ctx, "ivan", lc.Code, uuid.New(), time.Now())
			Expect(result.OK).To(BeTrue())

			// One-time: a replay of the same code misses.
			result = codeStore.Redeem(ctx, "ivan", lc.Code, uuid.New(), time.Now())
			Expect(result.OK).To(BeFalse())
			Expect(result.Reason).To(Equal(linkcode.ReasonNotFoundOrExpired))
		})
	})
})
