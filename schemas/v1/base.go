package v1

// BaseTemplate is the core multisig schema. Table and column names are the
// wire contract queried by downstream services; renaming any of them requires
// a migration.
var BaseTemplate = `
	-- ----------------------------------------------------------------
	-- Name: multisig_wallets
	-- Model: multisig.MultisigWallet
	-- Growth: one row per multisig account
	-- ----------------------------------------------------------------
	CREATE TABLE {{ .SchemaName | default "public"}}.multisig_wallets (
		wallet_address      text NOT NULL,
		required_signatures int NOT NULL,
		metadata            jsonb,
		created_at          timestamptz NOT NULL
	);
	ALTER TABLE ONLY {{ .SchemaName | default "public"}}.multisig_wallets ADD CONSTRAINT multisig_wallets_pkey PRIMARY KEY (wallet_address);

	-- ----------------------------------------------------------------
	-- Name: multisig_owners
	-- Model: multisig.MultisigOwner
	-- Growth: one row per owner address, append only
	-- ----------------------------------------------------------------
	CREATE TABLE {{ .SchemaName | default "public"}}.multisig_owners (
		owner_address text NOT NULL,
		created_at    timestamptz NOT NULL
	);
	ALTER TABLE ONLY {{ .SchemaName | default "public"}}.multisig_owners ADD CONSTRAINT multisig_owners_pkey PRIMARY KEY (owner_address);

	-- ----------------------------------------------------------------
	-- Name: owners_wallets
	-- Model: multisig.OwnerWalletMembership
	-- Growth: one row per membership change, append only
	-- ----------------------------------------------------------------
	CREATE TABLE {{ .SchemaName | default "public"}}.owners_wallets (
		wallet_address text NOT NULL,
		owner_address  text NOT NULL,
		version        bigint NOT NULL,
		status         text NOT NULL,
		created_at     timestamptz NOT NULL
	);
	ALTER TABLE ONLY {{ .SchemaName | default "public"}}.owners_wallets ADD CONSTRAINT owners_wallets_pkey PRIMARY KEY (wallet_address, owner_address, version);
	CREATE INDEX owners_wallets_owner_idx ON {{ .SchemaName | default "public"}}.owners_wallets USING btree (owner_address);

	-- ----------------------------------------------------------------
	-- Name: multisig_transactions
	-- Model: multisig.MultisigTransaction
	-- Growth: one row per proposed transaction
	-- ----------------------------------------------------------------
	CREATE TABLE {{ .SchemaName | default "public"}}.multisig_transactions (
		wallet_address  text NOT NULL,
		sequence_number bigint NOT NULL,
		version         bigint NOT NULL,
		initiated_by    text NOT NULL,
		payload         jsonb,
		payload_hash    text NOT NULL,
		status          text NOT NULL,
		created_at      timestamptz NOT NULL
	);
	ALTER TABLE ONLY {{ .SchemaName | default "public"}}.multisig_transactions ADD CONSTRAINT multisig_transactions_pkey PRIMARY KEY (wallet_address, sequence_number);

	-- ----------------------------------------------------------------
	-- Name: multisig_voting_transactions
	-- Model: multisig.MultisigVote
	-- Growth: one row per (owner, transaction); later votes overwrite
	-- ----------------------------------------------------------------
	CREATE TABLE {{ .SchemaName | default "public"}}.multisig_voting_transactions (
		wallet_address       text NOT NULL,
		transaction_sequence bigint NOT NULL,
		owner_address        text NOT NULL,
		value                boolean NOT NULL,
		created_at           timestamptz NOT NULL
	);
	ALTER TABLE ONLY {{ .SchemaName | default "public"}}.multisig_voting_transactions ADD CONSTRAINT multisig_voting_transactions_pkey PRIMARY KEY (wallet_address, transaction_sequence, owner_address);

	-- ----------------------------------------------------------------
	-- Name: processor_status
	-- Model: processor.Status
	-- Growth: one row per processor instance
	-- ----------------------------------------------------------------
	CREATE TABLE {{ .SchemaName | default "public"}}.processor_status (
		processor            text NOT NULL,
		last_success_version bigint NOT NULL,
		last_updated         timestamptz NOT NULL
	);
	ALTER TABLE ONLY {{ .SchemaName | default "public"}}.processor_status ADD CONSTRAINT processor_status_pkey PRIMARY KEY (processor);
`
