package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ckoval7/challengectl/internal/auth"
	"github.com/ckoval7/challengectl/internal/httpserver"
)

// rate limit windows per endpoint class (spec.md §5). Login/verify-totp are
// not listed here: auth.RateLimiter already enforces their 5-per-15-minute
// cap inside Gateway.Login/VerifyTOTP.
const (
	adminMutationLimit  = 100
	adminMutationWindow = time.Minute
	agentPollLimit      = 1000
	agentPollWindow     = time.Minute
	fileUploadLimit     = 100
	fileUploadWindow    = time.Minute
	fileDownloadLimit   = 500
	fileDownloadWindow  = time.Minute
	enrollmentLimit     = 10
	enrollmentWindow    = time.Hour
	provisioningLimit   = 100
	provisioningWindow  = time.Hour
)

// Mount wires every handler onto r under /api. Authentication (session or
// agent bearer) runs before each rate limiter, so requests rejected for
// missing or invalid credentials are not counted against it; the control
// mutations also check CSRF before their limiter. CSRF runs before the
// per-route permission check, except under /enrollment and
// /provisioning/keys, where the permission check applies to the whole group
// ahead of CSRF (and, under /enrollment, ahead of the limiter).
func (d *Dependencies) Mount(r chi.Router) {
	requireSession := auth.RequireSession(d.Gateway, d.Logger)
	requireVerified := auth.RequireVerified(d.Logger)
	requireCSRF := auth.RequireCSRF(d.Logger)
	requireAgent := auth.RequireAgent(d.Registry, d.Logger)
	permission := func(p string) func(http.Handler) http.Handler { return auth.RequirePermission(d.Logger, p) }

	r.Route("/api", func(api chi.Router) {
		// Public.
		api.Get("/health", d.handleHealth)
		api.Get("/public/challenges", d.handlePublicChallenges)
		api.Get("/conference", d.handleConference)
		api.Get("/frequency-ranges", d.handleFrequencyRanges)

		// Auth.
		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/login", d.handleLogin)
			ar.Post("/verify-totp", d.handleVerifyTOTP)

			ar.Group(func(sr chi.Router) {
				sr.Use(requireSession)
				sr.Get("/session", d.handleSession)
				sr.With(requireCSRF).Post("/logout", d.handleLogout)
				sr.With(requireCSRF).Post("/change-password", d.handleChangePassword)
				sr.With(requireCSRF).Post("/complete-setup", d.handleCompleteSetup)
				sr.With(requireCSRF).Post("/verify-setup", d.handleVerifySetup)
			})
		})

		// Users (admin). POST / runs under optionalSession so the
		// unauthenticated initial-setup call can reach it; every other verb
		// requires a verified admin session.
		api.Route("/users", func(ur chi.Router) {
			ur.With(d.optionalSession, rateLimit(d.Redis, d.Logger, "users", adminMutationLimit, adminMutationWindow)).Post("/", d.handleCreateUser)

			ur.Group(func(gr chi.Router) {
				gr.Use(requireSession, requireVerified, rateLimit(d.Redis, d.Logger, "users", adminMutationLimit, adminMutationWindow))
				gr.With(permission("create_users")).Get("/", d.handleListUsers)
				gr.With(requireCSRF, permission("create_users")).Put("/{u}", d.handleUpdateUser)
				gr.With(requireCSRF, permission("create_users")).Delete("/{u}", d.handleDeleteUser)
				gr.With(requireCSRF, permission("create_users")).Post("/{u}/reset-totp", d.handleResetTOTP)
				gr.With(requireCSRF, permission("create_users")).Post("/{u}/reset-password", d.handleResetPassword)
				gr.Get("/{u}/permissions", d.handleListPermissions)
				gr.With(requireCSRF).Post("/{u}/permissions", d.handleGrantPermission)
				gr.With(requireCSRF).Delete("/{u}/permissions/{p}", d.handleRevokePermission)
			})
		})

		// Agents (runners + listeners): bearer-authenticated.
		api.Route("/agents", func(agr chi.Router) {
			agr.Use(requireAgent, rateLimit(d.Redis, d.Logger, "agents", agentPollLimit, agentPollWindow))
			agr.Post("/register", d.handleRegisterAgent)
			agr.Post("/{id}/heartbeat", d.handleAgentHeartbeat)
			agr.Post("/{id}/signout", d.handleAgentSignout)
			agr.Post("/{id}/complete", d.handleCompleteTask)
			agr.Post("/{id}/log", d.handleAgentLog)
			agr.Get("/{id}/task", d.handleGetTask)
			agr.Post("/{id}/recording/start", d.handleRecordingStart)
			agr.Post("/{id}/recording/{rid}/complete", d.handleRecordingComplete)
			agr.Post("/{id}/recording/{rid}/upload", d.handleRecordingUpload)
		})

		// Admin overview + control.
		api.Group(func(gr chi.Router) {
			gr.Use(requireSession, requireVerified)
			gr.Get("/dashboard", d.handleDashboard)
			gr.Get("/logs", d.handleLogs)
			gr.Get("/runners", d.handleRunners)
			gr.Get("/transmissions", d.handleTransmissions)
			gr.Get("/recordings", d.handleRecordings)
			gr.Get("/control/status", d.handleControlStatus)
			gr.With(requireCSRF, rateLimit(d.Redis, d.Logger, "control", adminMutationLimit, adminMutationWindow)).Post("/control/pause", d.handlePause)
			gr.With(requireCSRF, rateLimit(d.Redis, d.Logger, "control", adminMutationLimit, adminMutationWindow)).Post("/control/resume", d.handleResume)
			gr.With(requireCSRF, rateLimit(d.Redis, d.Logger, "control", adminMutationLimit, adminMutationWindow)).Put("/conference", d.handleUpdateConference)
		})

		// Challenges (admin).
		api.Route("/challenges", func(cr chi.Router) {
			cr.Use(requireSession, requireVerified, rateLimit(d.Redis, d.Logger, "challenges", adminMutationLimit, adminMutationWindow))
			cr.Get("/", d.handleListChallenges)
			cr.With(requireCSRF).Post("/", d.handleCreateChallenge)
			cr.Get("/{id}", d.handleGetChallenge)
			cr.With(requireCSRF).Put("/{id}", d.handleUpdateChallenge)
			cr.With(requireCSRF).Delete("/{id}", d.handleDeleteChallenge)
			cr.With(requireCSRF).Post("/{id}/enable", d.handleEnableChallenge)
			cr.With(requireCSRF).Post("/{id}/trigger", d.handleTriggerChallenge)
			cr.With(requireCSRF).Post("/reload", d.handleReloadChallenges)
			cr.With(requireCSRF).Post("/import", d.handleImportChallenges)
		})

		// Enrollment.
		api.Route("/enrollment", func(er chi.Router) {
			er.With(rateLimit(d.Redis, d.Logger, "enrollment", enrollmentLimit, enrollmentWindow)).Post("/enroll", d.handleEnroll)

			er.Group(func(gr chi.Router) {
				gr.Use(requireSession, requireVerified, permission("create_users"), rateLimit(d.Redis, d.Logger, "enrollment", enrollmentLimit, enrollmentWindow))
				gr.With(requireCSRF).Post("/token", d.handleIssueEnrollmentToken)
				gr.Get("/tokens", d.handleListEnrollmentTokens)
				gr.With(requireCSRF).Delete("/token/{t}", d.handleRevokeEnrollmentToken)
				gr.With(requireCSRF).Post("/re-enroll/{runner_id}", d.handleReEnroll)
			})
		})

		// Provisioning.
		api.Route("/provisioning", func(pr chi.Router) {
			pr.With(rateLimit(d.Redis, d.Logger, "provisioning", provisioningLimit, provisioningWindow)).Post("/provision", d.handleProvision)

			pr.Group(func(gr chi.Router) {
				gr.Use(requireSession, requireVerified, permission("create_provisioning_key"))
				gr.Route("/keys", func(kr chi.Router) {
					kr.Get("/", d.handleListProvisioningKeys)
					kr.With(requireCSRF).Post("/", d.handleCreateProvisioningKey)
					kr.With(requireCSRF).Put("/{id}", d.handleSetProvisioningKeyEnabled)
				})
			})
		})

		// Files.
		api.Route("/files", func(fr chi.Router) {
			fr.With(requireAgent, rateLimit(d.Redis, d.Logger, "files_download", fileDownloadLimit, fileDownloadWindow)).Get("/{sha256}", d.handleDownloadFile)
			fr.With(d.sessionOrAgent, rateLimit(d.Redis, d.Logger, "files_upload", fileUploadLimit, fileUploadWindow)).Post("/upload", d.handleUploadFile)
		})

		// WebSockets.
		api.With(requireSession, requireVerified).Get("/ws", d.wsAdmin)
		api.Get("/ws/public", d.wsPublic)
		api.With(requireAgent).Get("/ws/agents", d.wsAgents)
	})
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Dependencies) wsAdmin(w http.ResponseWriter, r *http.Request) {
	d.Bus.AdminHandler(d.Logger).ServeHTTP(w, r)
}

func (d *Dependencies) wsPublic(w http.ResponseWriter, r *http.Request) {
	d.Bus.PublicHandler(d.Logger).ServeHTTP(w, r)
}

func (d *Dependencies) wsAgents(w http.ResponseWriter, r *http.Request) {
	d.Bus.AgentsHandler(d.Registry, d.Logger).ServeHTTP(w, r)
}

// sessionOrAgent accepts either a verified admin session or a bearer agent
// identity, for the one upload endpoint both kinds of caller use.
func (d *Dependencies) sessionOrAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			auth.RequireAgent(d.Registry, d.Logger)(next).ServeHTTP(w, r)
			return
		}
		auth.RequireVerified(d.Logger)(auth.RequireSession(d.Gateway, d.Logger)(next)).ServeHTTP(w, r)
	})
}
