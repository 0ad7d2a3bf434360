// Package docstore is the document tool host: an in-memory document store
// served over MCP.
//
// Tools: read_doc_contents(doc_id), edit_document(doc_id, old_str, new_str)
// and list_documents(). Resources: docs://documents (a JSON list of ids) and
// docs://documents/{doc_id}. Prompts: summarize(doc_id) and
// rewrite_markdown(doc_id).
package docstore
