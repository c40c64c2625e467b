package models

import "time"

// Employment record statuses.
const (
	EmploymentActive        = "active"
	EmploymentContractEnded = "contract_ended"
)

// EmploymentRecord is created exactly once when an Application is hired.
type EmploymentRecord struct {
	ID              string     `json:"id"`
	ApplicationID   string     `json:"applicationId"`
	JobID           string     `json:"jobId"`
	EmployerType    ActorType  `json:"employerType"`
	EmployerID      string     `json:"employerId"`
	HiredDate       time.Time  `json:"hiredDate"`
	Status          string     `json:"status"`
	ContractEndDate *time.Time `json:"contractEndDate,omitempty"`
}
