package chainindex

const DefaultDbFilename = "fisherman-index.db"

const (
	stmtGetCursor = "SELECT last_finalized_block FROM service_state WHERE id = 1"
	stmtSetCursor = "INSERT INTO service_state (id, last_finalized_block) VALUES (1, ?) ON CONFLICT (id) DO UPDATE SET last_finalized_block = excluded.last_finalized_block"

	stmtPendingUserDeletions = `SELECT f.file_key, f.bucket_id, f.owner, f.location, f.fingerprint, f.size, f.created_block,
		s.signed_intention, s.signature, r.block_number
		FROM file_deletion_request r
		JOIN file f ON f.file_key = r.file_key
		LEFT JOIN file_deletion_signature s ON s.file_key = r.file_key
		WHERE r.block_number <= ?
		ORDER BY r.block_number, r.file_key`

	stmtPendingIncomplete = `SELECT r.file_key, r.bucket_id, r.reason, r.pending_bucket_removal, r.block_number, b.msp_id
		FROM incomplete_storage_request r
		LEFT JOIN bucket b ON b.bucket_id = r.bucket_id
		WHERE r.block_number <= ?
		ORDER BY r.block_number, r.file_key`

	stmtPendingIncompleteBsps = `SELECT p.file_key, p.bsp_id
		FROM incomplete_storage_request_bsp p
		JOIN incomplete_storage_request r ON r.file_key = p.file_key
		WHERE r.block_number <= ?
		ORDER BY p.file_key, p.bsp_id`

	stmtFileBucket = "SELECT f.bucket_id, b.msp_id FROM file f JOIN bucket b ON b.bucket_id = f.bucket_id WHERE f.file_key = ?"
	stmtFileBsps   = "SELECT bsp_id FROM bsp_file WHERE file_key = ? ORDER BY bsp_id"

	stmtDeleteFile       = "DELETE FROM file WHERE file_key = ?"
	stmtDeleteIncomplete = "DELETE FROM incomplete_storage_request WHERE file_key = ?"

	stmtInsertBucket = "INSERT INTO bucket (bucket_id, owner, msp_id, created_block) VALUES (?, ?, ?, ?) ON CONFLICT (bucket_id) DO UPDATE SET msp_id = excluded.msp_id"
	stmtInsertFile   = `INSERT INTO file (file_key, bucket_id, owner, location, fingerprint, size, created_block) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_key) DO NOTHING`
	stmtInsertBspFile           = "INSERT INTO bsp_file (bsp_id, file_key, confirmed_block) VALUES (?, ?, ?) ON CONFLICT (bsp_id, file_key) DO NOTHING"
	stmtDeleteBspFile           = "DELETE FROM bsp_file WHERE bsp_id = ? AND file_key = ?"
	stmtInsertDeletionRequest   = "INSERT INTO file_deletion_request (file_key, block_number) VALUES (?, ?) ON CONFLICT (file_key) DO NOTHING"
	stmtInsertDeletionSignature = `INSERT INTO file_deletion_signature (file_key, signed_intention, signature) VALUES (?, ?, ?)
		ON CONFLICT (file_key) DO UPDATE SET signed_intention = excluded.signed_intention, signature = excluded.signature`
	stmtInsertIncomplete = `INSERT INTO incomplete_storage_request (file_key, bucket_id, reason, pending_bucket_removal, block_number) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (file_key) DO NOTHING`
	stmtInsertIncompleteBsp = "INSERT INTO incomplete_storage_request_bsp (file_key, bsp_id) VALUES (?, ?) ON CONFLICT (file_key, bsp_id) DO NOTHING"
	stmtDeleteIncompleteBsp = "DELETE FROM incomplete_storage_request_bsp WHERE file_key = ? AND bsp_id = ?"
	stmtClearBucketRemoval  = "UPDATE incomplete_storage_request SET pending_bucket_removal = 0 WHERE file_key = ?"
	stmtDeleteSettled       = `DELETE FROM incomplete_storage_request WHERE file_key = ? AND pending_bucket_removal = 0
		AND NOT EXISTS (SELECT 1 FROM incomplete_storage_request_bsp p WHERE p.file_key = incomplete_storage_request.file_key)`

	stmtRevertBuckets           = "DELETE FROM bucket WHERE created_block > ?"
	stmtRevertFiles             = "DELETE FROM file WHERE created_block > ?"
	stmtRevertBspFiles          = "DELETE FROM bsp_file WHERE confirmed_block > ?"
	stmtRevertDeletionRequests  = "DELETE FROM file_deletion_request WHERE block_number > ?"
	stmtRevertIncompleteRecords = "DELETE FROM incomplete_storage_request WHERE block_number > ?"
)

var ddls = []string{
	`CREATE TABLE IF NOT EXISTS service_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_finalized_block INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS bucket (
		bucket_id BLOB PRIMARY KEY,
		owner TEXT NOT NULL,
		msp_id BLOB,
		created_block INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS file (
		file_key BLOB PRIMARY KEY,
		bucket_id BLOB NOT NULL REFERENCES bucket(bucket_id) ON DELETE CASCADE,
		owner TEXT NOT NULL,
		location BLOB NOT NULL,
		fingerprint BLOB NOT NULL,
		size INTEGER NOT NULL,
		created_block INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS bsp_file (
		bsp_id BLOB NOT NULL,
		file_key BLOB NOT NULL REFERENCES file(file_key) ON DELETE CASCADE,
		confirmed_block INTEGER NOT NULL,
		PRIMARY KEY (bsp_id, file_key)
	)`,

	`CREATE TABLE IF NOT EXISTS file_deletion_request (
		file_key BLOB PRIMARY KEY REFERENCES file(file_key) ON DELETE CASCADE,
		block_number INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS file_deletion_signature (
		file_key BLOB PRIMARY KEY REFERENCES file(file_key) ON DELETE CASCADE,
		signed_intention BLOB NOT NULL,
		signature BLOB NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS incomplete_storage_request (
		file_key BLOB PRIMARY KEY,
		bucket_id BLOB NOT NULL,
		reason TEXT NOT NULL CHECK (reason IN ('expired', 'revoked')),
		pending_bucket_removal INTEGER NOT NULL,
		block_number INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS incomplete_storage_request_bsp (
		file_key BLOB NOT NULL REFERENCES incomplete_storage_request(file_key) ON DELETE CASCADE,
		bsp_id BLOB NOT NULL,
		PRIMARY KEY (file_key, bsp_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_file_bucket ON file (bucket_id)`,

	`CREATE INDEX IF NOT EXISTS idx_bsp_file_key ON bsp_file (file_key)`,

	`CREATE INDEX IF NOT EXISTS idx_deletion_request_block ON file_deletion_request (block_number)`,

	`CREATE INDEX IF NOT EXISTS idx_incomplete_block ON incomplete_storage_request (block_number)`,
}
