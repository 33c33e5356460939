package v1

// Schema version 1 adds per-batch processing reports and gap reports

func init() {
	patches.Register(
		1,
		`
	-- ----------------------------------------------------------------
	-- Name: processing_reports
	-- Model: processor.ProcessingReport
	-- Growth: one row per committed batch
	-- ----------------------------------------------------------------
	CREATE TABLE {{ .SchemaName | default "public"}}.processing_reports (
		start_version      bigint NOT NULL,
		end_version        bigint NOT NULL,
		reporter           text NOT NULL,
		started_at         timestamptz NOT NULL,
		completed_at       timestamptz,
		status             text NOT NULL,
		status_information text,
		errors_detected    jsonb
	);
	ALTER TABLE ONLY {{ .SchemaName | default "public"}}.processing_reports ADD CONSTRAINT processing_reports_pkey PRIMARY KEY (start_version, end_version, reporter, started_at);

	-- ----------------------------------------------------------------
	-- Name: gap_reports
	-- Model: processor.GapReport
	-- Growth: one row per detected gap
	-- ----------------------------------------------------------------
	CREATE TABLE {{ .SchemaName | default "public"}}.gap_reports (
		start_version bigint NOT NULL,
		end_version   bigint NOT NULL,
		status        text NOT NULL,
		reporter      text NOT NULL,
		reported_at   timestamptz NOT NULL
	);
	ALTER TABLE ONLY {{ .SchemaName | default "public"}}.gap_reports ADD CONSTRAINT gap_reports_pkey PRIMARY KEY (start_version, end_version, status);
`)
}
