package repository

// Schema senzen-data 建表语句（幂等；DB_MIGRATE=true 时启动执行）
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id          UUID PRIMARY KEY,
	name                TEXT NOT NULL,
	email               TEXT NOT NULL UNIQUE,
	password_hash       BYTEA NOT NULL,
	role                TEXT NOT NULL CHECK (role IN ('admin', 'caretaker', 'patient')),
	gender              TEXT NOT NULL DEFAULT 'male',
	birthday            TEXT,
	front_photo         TEXT,
	back_photo          TEXT,
	assigned_patient_id UUID REFERENCES accounts (account_id) ON DELETE SET NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
	task_id      UUID PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	caretaker_id UUID NOT NULL REFERENCES accounts (account_id),
	patient_id   UUID NOT NULL REFERENCES accounts (account_id),
	scheduled_at TIMESTAMPTZ NOT NULL,
	done         BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_tasks_patient ON tasks (patient_id, scheduled_at);

CREATE TABLE IF NOT EXISTS recites (
	recite_id    UUID PRIMARY KEY,
	item_number  INT NOT NULL,
	item_name    TEXT NOT NULL,
	item_amount  INT NOT NULL CHECK (item_amount >= 0),
	item_price   NUMERIC(12, 2) NOT NULL CHECK (item_price >= 0),
	entry_date   DATE NOT NULL,
	caretaker_id UUID NOT NULL REFERENCES accounts (account_id),
	patient_id   UUID NOT NULL REFERENCES accounts (account_id),
	recorded_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (patient_id, entry_date, item_number)
);

CREATE TABLE IF NOT EXISTS recite_sequences (
	patient_id  UUID NOT NULL,
	entry_date  DATE NOT NULL,
	last_number INT NOT NULL,
	PRIMARY KEY (patient_id, entry_date)
);
`
