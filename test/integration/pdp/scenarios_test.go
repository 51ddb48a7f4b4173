// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package pdp_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/aegis-pdp/aegis/internal/access/condition"
	"github.com/aegis-pdp/aegis/internal/access/policy"
	"github.com/aegis-pdp/aegis/internal/auth"
	"github.com/aegis-pdp/aegis/internal/bundle"
	"github.com/aegis-pdp/aegis/internal/config"
	"github.com/aegis-pdp/aegis/internal/event"
	"github.com/aegis-pdp/aegis/internal/pdp"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

var twoAM = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)

var _ = Describe("Role-based access", func() {
	var env *testEnv

	BeforeEach(func() {
		env = newTestEnv(twoAM)
		DeferCleanup(env.stop)
	})

	Context("when alice holds USER and ADMIN inherits from USER", func() {
		var aliceID, adminID string

		BeforeEach(func() {
			read := env.permission("document", "read")
			del := env.permission("document", "delete")
			userRole := env.role("USER", []string{read.ID})
			admin := env.role("ADMIN", []string{del.ID}, userRole.ID)
			adminID = admin.ID
			aliceID = env.user("alice", userRole.ID).ID
		})

		It("grants reads", func() {
			granted, _ := env.decide(aliceID, "document", "read")
			Expect(granted).To(BeTrue())
		})

		It("denies deletes for insufficient permissions", func() {
			granted, reason := env.decide(aliceID, "document", "delete")
			Expect(granted).To(BeFalse())
			Expect(reason).To(Equal("Insufficient permissions"))
		})

		It("grants deletes once ADMIN is assigned, keeping inherited reads", func() {
			Expect(env.svc.AssignRole(env.ctx, aliceID, adminID)).To(Succeed())

			granted, _ := env.decide(aliceID, "document", "delete")
			Expect(granted).To(BeTrue())
			granted, _ = env.decide(aliceID, "document", "read")
			Expect(granted).To(BeTrue())
			Expect(env.count(event.KindRoleAssigned)).To(Equal(1))
		})

		It("decides identically for identical state", func() {
			first, firstReason := env.decide(aliceID, "document", "delete")
			for range 5 {
				again, reason := env.decide(aliceID, "document", "delete")
				Expect(again).To(Equal(first))
				Expect(reason).To(Equal(firstReason))
			}
		})
	})
})

var _ = Describe("Time-based policies", func() {
	var (
		env      *testEnv
		bobID    string
		policyID string
	)

	BeforeEach(func() {
		env = newTestEnv(twoAM)
		DeferCleanup(env.stop)

		write := env.permission("transactions", "write")
		teller := env.role("TELLER", []string{write.ID})
		bobID = env.user("bob", teller.ID).ID

		p, err := env.svc.CreatePolicy(env.ctx, policy.NewPolicy{
			Name:     "business-hours",
			Priority: 100,
			Rules: []policy.Rule{
				{Resource: "transactions", Action: "write", Effect: policy.EffectDeny,
					Conditions: []condition.Condition{{Kind: condition.KindTime, Operator: condition.OpLessThan, Value: 9}}},
				{Resource: "transactions", Action: "write", Effect: policy.EffectDeny,
					Conditions: []condition.Condition{{Kind: condition.KindTime, Operator: condition.OpGreaterThan, Value: 17}}},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		policyID = p.ID
	})

	It("denies at 2am and grants at 2pm", func() {
		d, err := env.svc.CheckAccess(env.ctx, bobID, "transactions", "write", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Granted()).To(BeFalse())
		Expect(d.Reason).To(Equal("Access denied by policy: business-hours"))
		Expect(d.PolicyID).To(Equal(policyID))

		env.sched.Advance(12 * time.Hour)

		d, err = env.svc.CheckAccess(env.ctx, bobID, "transactions", "write", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Granted()).To(BeTrue())
	})

	It("stops applying once deactivated", func() {
		_, err := env.svc.SetPolicyActive(env.ctx, policyID, false)
		Expect(err).NotTo(HaveOccurred())

		granted, _ := env.decide(bobID, "transactions", "write")
		Expect(granted).To(BeTrue())
	})

	It("is bypassed when attribute-based access is disabled", func() {
		cfg := env.svc.GetConfig()
		cfg.EnableAttributeBasedAccess = false
		Expect(env.svc.UpdateConfig(env.ctx, cfg)).To(Succeed())

		granted, _ := env.decide(bobID, "transactions", "write")
		Expect(granted).To(BeTrue())
	})
})

var _ = Describe("Account lockout", func() {
	var env *testEnv

	BeforeEach(func() {
		env = newTestEnv(twoAM, func(c *config.Config) { c.MaxLoginAttempts = 3 })
		DeferCleanup(env.stop)
	})

	It("locks after the configured number of failures until unlocked", func() {
		carol := env.user("carol")

		for range 3 {
			_, err := env.svc.Authenticate(env.ctx, "carol", "Wr0ng!pass", "")
			Expect(errutil.Code(err)).To(Equal(auth.CodeInvalidCredentials))
		}
		Expect(env.count(event.KindAccountLocked)).To(Equal(1))

		_, err := env.svc.Authenticate(env.ctx, "carol", password, "")
		Expect(errutil.KindOf(err)).To(Equal(errutil.KindLocked))

		granted, reason := env.decide(carol.ID, "anything", "read")
		Expect(granted).To(BeFalse())
		Expect(reason).To(Equal(pdp.ReasonUserLocked))

		_, err = env.svc.UnlockUser(env.ctx, carol.ID)
		Expect(err).NotTo(HaveOccurred())
		login, err := env.svc.Authenticate(env.ctx, "carol", password, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(login.Session).NotTo(BeNil())
	})
})

var _ = Describe("Session lifetime", func() {
	var env *testEnv

	BeforeEach(func() {
		env = newTestEnv(twoAM)
		DeferCleanup(env.stop)
		env.user("dave")
	})

	It("stays valid before expiry and is swept after", func() {
		login, err := env.svc.Authenticate(env.ctx, "dave", password, "")
		Expect(err).NotTo(HaveOccurred())
		token := login.Session.AccessToken

		env.sched.Advance(29 * time.Minute)
		_, err = env.svc.ValidateSession(env.ctx, token)
		Expect(err).NotTo(HaveOccurred())

		env.sched.Advance(2 * time.Minute)
		Expect(env.count(event.KindSessionsCleaned)).To(Equal(1))

		_, err = env.svc.ValidateSession(env.ctx, token)
		Expect(errutil.Code(err)).To(Equal(auth.CodeSessionExpired))

		env.sched.Advance(time.Hour)
		_, err = env.svc.ValidateSession(env.ctx, token)
		Expect(err).To(HaveOccurred(), "an expired session never becomes valid again")
	})

	It("ends on logout", func() {
		login, err := env.svc.Authenticate(env.ctx, "dave", password, "")
		Expect(err).NotTo(HaveOccurred())

		ok, err := env.svc.Logout(env.ctx, login.Session.AccessToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(env.count(event.KindUserLoggedOut)).To(Equal(1))

		d, err := env.svc.CheckSessionAccess(env.ctx, login.Session.AccessToken, "document", "read", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Reason).To(Equal(pdp.ReasonSessionLoggedOut))
	})
})

var _ = Describe("Bundles", func() {
	It("round-trips the authorization model into a fresh decision point", func() {
		src := newTestEnv(twoAM)
		DeferCleanup(src.stop)

		read := src.permission("document", "read")
		del := src.permission("document", "delete")
		userRole := src.role("USER", []string{read.ID})
		src.role("ADMIN", []string{del.ID}, userRole.ID)
		_, err := src.svc.CreatePolicy(src.ctx, policy.NewPolicy{
			Name:     "no-night-deletes",
			Priority: 10,
			Rules: []policy.Rule{{
				Resource: "document", Action: "delete", Effect: policy.EffectDeny,
				Conditions: []condition.Condition{{Kind: condition.KindTime, Operator: condition.OpBetween, Value: []any{0, 6}}},
			}},
		})
		Expect(err).NotTo(HaveOccurred())

		exported := src.svc.Export()
		data, err := bundle.Marshal(exported)
		Expect(err).NotTo(HaveOccurred())

		decoded, err := bundle.Unmarshal(data)
		Expect(err).NotTo(HaveOccurred())

		dst := newTestEnv(twoAM)
		DeferCleanup(dst.stop)
		Expect(dst.svc.Import(dst.ctx, decoded)).To(Succeed())

		again, err := bundle.Marshal(dst.svc.Export())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(again)).To(Equal(string(data)))

		admin, ok := dst.svc.GetRoleByName("admin")
		Expect(ok).To(BeTrue())
		eve := dst.user("eve", admin.ID)

		granted, _ := dst.decide(eve.ID, "document", "read")
		Expect(granted).To(BeTrue())
		granted, reason := dst.decide(eve.ID, "document", "delete")
		Expect(granted).To(BeFalse())
		Expect(reason).To(Equal("Access denied by policy: no-night-deletes"))
	})
})
