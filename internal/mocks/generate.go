// Package mocks provides gomock implementations of the fleetpush repository ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	jobs := mocks.NewMockJobRepository(ctrl)
//	jobs.EXPECT().MarkSent(gomock.Any(), jobID).Return(job, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/fleetpush/internal/core JobRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=device_repository_mock.go github.com/target/fleetpush/internal/core DeviceRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=push_attempt_repository_mock.go github.com/target/fleetpush/internal/core PushAttemptRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=outcome_repository_mock.go github.com/target/fleetpush/internal/core OutcomeRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=config_history_repository_mock.go github.com/target/fleetpush/internal/core ConfigHistoryRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=followup_repository_mock.go github.com/target/fleetpush/internal/core FollowUpRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=audit_event_repository_mock.go github.com/target/fleetpush/internal/core AuditEventRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/target/fleetpush/internal/core ReaperRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/fleetpush/internal/core CacheRepository
