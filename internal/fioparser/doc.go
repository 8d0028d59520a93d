// Package fioparser converts fio's JSON output, across its several
// historical field-naming shapes and possibly preceded by non-JSON log
// lines, into a canonical model.Summary.
//
// fio is occasionally asked to emit informational lines before its JSON
// blob (e.g. ioengine warnings); the parser locates the JSON object by
// scanning for a balanced brace run rather than assuming byte 0 is '{'.
package fioparser
