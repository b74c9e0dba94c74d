package cel

// ConditionExpressionExamples are served by the management API as hints for rule and step authors.
var ConditionExpressionExamples = map[string]string{
	"payload_equals":     `payload.to_status == "qualified"`,
	"payload_in_list":    `payload.source in ["web", "referral"]`,
	"numeric_threshold":  `payload.value > 10000.0`,
	"target_field":       `target.origin == "website"`,
	"target_has_email":   `has(target.email) && target.email != ""`,
	"email_domain":       `target.email.endsWith("@example.com")`,
	"trigger_specific":   `trigger_type == "lead_stage_changed" && payload.new_stage_id != payload.old_stage_id`,
	"combined_condition": `(payload.priority == "high" || target.status == "hot") && has(target.assigned_to)`,
}
