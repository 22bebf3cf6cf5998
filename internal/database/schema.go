package database

// Credential table schema, bootstrapped at open. There is no migrations
// framework; additive changes go through ALTER statements appended here.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS credentials (
	api_key    TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_credentials_user_id ON credentials(user_id);
`
