package repositories

import "context"

// Repository aggregates every repository the session engine uses
type Repository interface {
	// Session domain
	Session() SessionRepository
	Answer() AnswerRepository
	Certificate() CertificateRepository

	// Catalog domain (read-only)
	Question() QuestionRepository
	QuestionBank() QuestionBankRepository
	Access() AccessRepository

	// User domain (external)
	User() UserRepository

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	// Initialize repositories with database connections
	Initialize() error

	// Get repository instance
	GetRepository() Repository

	// Health check for all repositories
	HealthCheck(ctx context.Context) error

	// Graceful shutdown
	Shutdown(ctx context.Context) error
}
