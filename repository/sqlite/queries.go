package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS usage (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    channel TEXT NOT NULL,
    duration_minutes INTEGER NOT NULL,
    status TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    cost_estimate INTEGER NOT NULL DEFAULT 0,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_user ON usage(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_status ON usage(status);
`

const (
	insertUsageQuery = `
        INSERT INTO usage (
            id, request_id, user_id, platform, channel,
            duration_minutes, status, detail, cost_estimate,
            elapsed_ms, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

	listByUserQuery = `
        SELECT id, request_id, user_id, platform, channel,
               duration_minutes, status, detail, cost_estimate,
               elapsed_ms, created_at
        FROM usage
        WHERE user_id = ?
        ORDER BY created_at DESC
        LIMIT ?
    `
)
