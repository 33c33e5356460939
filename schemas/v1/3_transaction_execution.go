package v1

// Schema version 3 records the execution outcome of a proposed transaction

func init() {
	patches.Register(
		3,
		`
	ALTER TABLE {{ .SchemaName | default "public"}}.multisig_transactions ADD COLUMN executed_at timestamptz;
	ALTER TABLE {{ .SchemaName | default "public"}}.multisig_transactions ADD COLUMN executor text;
	ALTER TABLE {{ .SchemaName | default "public"}}.multisig_transactions ADD COLUMN execution_failed boolean NOT NULL DEFAULT false;
`)
}
