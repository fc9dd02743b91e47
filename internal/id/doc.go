// Package id provides unique identifier generation utilities.
//
// It provides two ID formats:
//
//   - UUID: Standard UUID v4 (random), used for message correlation ids
//   - ULID: time-sortable identifiers, used for client and connection ids
//     where chronological ordering helps when reading logs
package id
