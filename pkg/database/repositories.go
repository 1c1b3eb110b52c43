package database

// Repositories holds every repository instance backed by a single Client.
type Repositories struct {
	Blocks         *BlockRepository
	AuthorizedKeys *AuthorizedKeyRepository
	Checkpoints    *CheckpointRepository
}

// NewRepositories creates every repository over client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Blocks:         NewBlockRepository(client),
		AuthorizedKeys: NewAuthorizedKeyRepository(client),
		Checkpoints:    NewCheckpointRepository(client),
	}
}
