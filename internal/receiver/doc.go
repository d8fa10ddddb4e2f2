// Package receiver implements the server side of the uploadq protocol.
//
// POST /upload accepts a whole file as the multipart field "file", or one
// part of a chunked upload as the raw body with X-File-ID, X-File-Name,
// X-Part-Index, X-Part-Count and X-Part-Size headers. Parts are staged per
// file id with a msgpack manifest and assembled into the upload directory
// when the last missing part arrives; repeated parts are accepted, so a
// client may resend after a stall or resume in a later session. Every
// response carries a boolean "success".
//
// GET /files, POST /files/rename and POST /files/delete manage the stored
// files. Rename and delete answer {"success":false,"fileNotFound":true}
// for names that do not exist.
package receiver
