package models

import "strings"

// Documents holds the extracted text of a case's inputs keyed by document name.
type Documents map[string]string

// Document names filled by the case file loader and the reporting service.
const (
	DocAlert                  = "alert"
	DocCustomer               = "customer"
	DocAccountNumber          = "account_number"
	DocTransactions           = "transactions"
	DocCredits                = "credits"
	DocDebits                 = "debits"
	DocPlaybook               = "playbook"
	DocAlertAssessment        = "alert_assessment"
	DocAdditional             = "additional_documentation"
	DocPrincipalParty         = "principal_party_documentation"
	DocAdditionalParties      = "additional_parties"
	DocAdditionalTransactions = "additional_transactions"
	DocPreNarrative           = "pre_narrative"
	DocNarrative              = "narrative"
)

// TemplateDoc names the SAR section template of the slot tag.
func TemplateDoc(tag SlotTag) string {
	return "template/" + string(tag)
}

// Has tells whether the document is present and not blank.
func (d Documents) Has(name string) bool {
	return strings.TrimSpace(d[name]) != ""
}
