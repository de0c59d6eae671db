//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package store_test

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/publicdesk/identity/internal/store"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const insertAccount = `
	INSERT INTO accounts (id, first_name, last_name, email, phone, password_hash, role, status, created_at, updated_at)
	VALUES ($1, 'Ada', 'Lovelace', $2, $3, 'hash', 'CITIZEN', 'PENDING_VERIFICATION', NOW(), NOW())`

var _ = Describe("identity schema", Ordered, func() {
	var (
		ctx  context.Context
		pool *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()
		connStr := startPostgres(ctx, GinkgoT())

		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		pool, err = store.OpenPool(ctx, store.DefaultPoolConfig(connStr), nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)
	})

	BeforeEach(func() {
		_, err := pool.Exec(ctx, "TRUNCATE accounts CASCADE")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("accounts", func() {
		It("rejects a second live account with the same email in any case", func() {
			_, err := pool.Exec(ctx, insertAccount, "01J0000000000000000000000A", "ada@example.com", "+15550001")
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, insertAccount, "01J0000000000000000000000B", "ADA@example.com", "+15550002")
			Expect(pgCode(err)).To(Equal(pgerrcode.UniqueViolation))
		})

		It("rejects a second live account with the same phone", func() {
			_, err := pool.Exec(ctx, insertAccount, "01J0000000000000000000000A", "ada@example.com", "+15550001")
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, insertAccount, "01J0000000000000000000000B", "grace@example.com", "+15550001")
			Expect(pgCode(err)).To(Equal(pgerrcode.UniqueViolation))
		})

		It("frees email and phone once the holder is soft-deleted", func() {
			_, err := pool.Exec(ctx, insertAccount, "01J0000000000000000000000A", "ada@example.com", "+15550001")
			Expect(err).NotTo(HaveOccurred())
			_, err = pool.Exec(ctx, "UPDATE accounts SET deleted_at = NOW() WHERE id = $1", "01J0000000000000000000000A")
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, insertAccount, "01J0000000000000000000000B", "ada@example.com", "+15550001")
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects unknown roles", func() {
			_, err := pool.Exec(ctx, `
				INSERT INTO accounts (id, first_name, last_name, email, phone, password_hash, role, status, created_at, updated_at)
				VALUES ('01J0000000000000000000000A', 'A', 'B', 'a@example.com', '+1', 'h', 'ROOT', 'ACTIVE', NOW(), NOW())`)
			Expect(pgCode(err)).To(Equal(pgerrcode.CheckViolation))
		})
	})

	Describe("one_time_codes", func() {
		It("cascades when the account row is removed", func() {
			_, err := pool.Exec(ctx, insertAccount, "01J0000000000000000000000A", "ada@example.com", "+15550001")
			Expect(err).NotTo(HaveOccurred())
			_, err = pool.Exec(ctx, `
				INSERT INTO one_time_codes (id, account_id, code, category, attempts, verified, expires_at, created_at)
				VALUES ('01J0000000000000000000000C', '01J0000000000000000000000A', '123456', 'LOGIN', 0, false, NOW() + INTERVAL '5 minutes', NOW())`)
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, "DELETE FROM accounts WHERE id = '01J0000000000000000000000A'")
			Expect(err).NotTo(HaveOccurred())

			var n int
			Expect(pool.QueryRow(ctx, "SELECT COUNT(*) FROM one_time_codes").Scan(&n)).To(Succeed())
			Expect(n).To(BeZero())
		})
	})
})
