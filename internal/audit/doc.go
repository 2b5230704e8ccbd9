// Package audit records every device command in the command_log table.
//
// The platform writes one Entry per Execute call, whatever the outcome, and
// the API serves the history per device. Entries carry where the command came
// from (Source, RequestID) through the context, set with WithOrigin.
package audit
