package v1

// Schema version 2 adds wallet contact lists and global spam-asset flags

func init() {
	patches.Register(
		2,
		`
	-- ----------------------------------------------------------------
	-- Name: multisig_contacts
	-- Model: multisig.MultisigContact
	-- Growth: one row per (wallet, contact)
	-- ----------------------------------------------------------------
	CREATE TABLE {{ .SchemaName | default "public"}}.multisig_contacts (
		wallet_address  text NOT NULL,
		contact_address text NOT NULL,
		contact_name    text NOT NULL,
		created_at      timestamptz NOT NULL
	);
	ALTER TABLE ONLY {{ .SchemaName | default "public"}}.multisig_contacts ADD CONSTRAINT multisig_contacts_pkey PRIMARY KEY (wallet_address, contact_address);

	-- ----------------------------------------------------------------
	-- Name: spam_assets
	-- Model: multisig.SpamAsset
	-- Growth: one row per flagged asset
	-- ----------------------------------------------------------------
	CREATE TABLE {{ .SchemaName | default "public"}}.spam_assets (
		asset        text NOT NULL,
		is_spam      boolean NOT NULL,
		last_updated timestamptz NOT NULL
	);
	ALTER TABLE ONLY {{ .SchemaName | default "public"}}.spam_assets ADD CONSTRAINT spam_assets_pkey PRIMARY KEY (asset);
`)
}
