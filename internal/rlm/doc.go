// Package rlm composes the Q-table, working memory, reward calculator and
// session manager into one Engine.
//
// An Engine serves one session at a time. Its subsystems lock themselves,
// but a sequence such as SelectAction followed by RecordStep is not atomic,
// and the session lifecycle is not safe for concurrent use.
package rlm
