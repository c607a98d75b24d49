// Package csvparse turns uploaded sales-order spreadsheets into mapped rows.
//
// # Pipeline
//
//  1. Decode: UTF-8 (BOM stripped), falling back to Latin-1
//  2. Sniff the delimiter from the first 1KB (comma by default)
//  3. Read records; row 1 is the header, data rows are numbered from 2
//  4. Drop summary and subtotal rows via the completeness heuristic
//
// XLSX workbooks (by filename extension) skip steps 1-2 and read the first
// sheet directly; everything after is identical.
//
// # Value Coercion
//
// TransformValue and the Parse* helpers coerce raw cell text into canonical
// forms (YYYY-MM-DD dates, plain decimal numbers, booleans, UUIDs). They never
// fail loudly; unparseable input reports ok=false.
//
// # Column Detection
//
// DetectColumns proposes a mapping from the fixed Cin7 field vocabulary to
// the file's headers using a static synonym table.
package csvparse
