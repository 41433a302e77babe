package pg

// Schema creates the tables used by Store. It is idempotent.
const Schema = `
create table if not exists rota_bindings (
	id                        text primary key,
	worker_id                 bigint not null,
	resource_id               bigint not null,
	active                    boolean not null,
	is_primary                boolean not null,
	exclusive                 boolean not null,
	created_at                timestamptz not null,
	ended_at                  timestamptz,
	end_reason                text not null default '',
	last_activity_at          timestamptz not null,
	last_message_sent_at      timestamptz,
	last_typing_at            timestamptz,
	conversation_ids          jsonb not null default '[]',
	active_conversation_count integer not null default 0
);
create index if not exists rota_bindings_active_resource on rota_bindings (resource_id) where active;
create index if not exists rota_bindings_active_worker on rota_bindings (worker_id) where active;

create table if not exists rota_workers (
	id           bigint primary key,
	online       boolean not null,
	status       text not null,
	last_seen_at timestamptz not null
);

create table if not exists rota_queue (
	worker_id bigint primary key,
	queued_at timestamptz not null,
	priority  integer not null
);

create table if not exists rota_locks (
	key        text primary key,
	holder     text not null,
	token      text not null,
	locked_at  timestamptz not null,
	expires_at timestamptz
);

create table if not exists rota_notification_rounds (
	id                 bigserial primary key,
	round_number       integer not null,
	workers_notified   jsonb not null,
	sent_at            timestamptz not null,
	pending_work_count integer not null
);
`
