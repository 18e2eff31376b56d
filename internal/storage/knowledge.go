package storage

const knowledgeColumns = `id, title, content, source, language, chunk_count, created_at`

func (s *Store) SaveKnowledgeDoc(doc KnowledgeDoc) error {
	_, err := s.db.Exec(`INSERT INTO knowledge_docs (`+knowledgeColumns+`) VALUES (`+placeholders(7)+`)`,
		doc.ID, doc.Title, doc.Content, doc.Source, doc.Language, doc.ChunkCount, formatTime(doc.CreatedAt),
	)
	return err
}

func (s *Store) GetKnowledgeDoc(id string) (KnowledgeDoc, error) {
	d, err := scanKnowledgeDoc(s.db.QueryRow(`SELECT `+knowledgeColumns+` FROM knowledge_docs WHERE id = ?`, id))
	return d, noRows(err)
}

// ListKnowledgeDocs returns up to limit documents, newest first.
func (s *Store) ListKnowledgeDocs(limit int) ([]KnowledgeDoc, error) {
	rows, err := s.db.Query(`SELECT `+knowledgeColumns+` FROM knowledge_docs
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []KnowledgeDoc
	for rows.Next() {
		d, err := scanKnowledgeDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateKnowledgeDocChunks records how many chunks a document was indexed as.
func (s *Store) UpdateKnowledgeDocChunks(id string, chunks int) error {
	return mustAffect(s.db.Exec(`UPDATE knowledge_docs SET chunk_count = ? WHERE id = ?`, chunks, id))
}

// DeleteKnowledgeDoc removes a document from the library. Its indexed
// vectors are removed separately through the vector store.
func (s *Store) DeleteKnowledgeDoc(id string) error {
	return mustAffect(s.db.Exec(`DELETE FROM knowledge_docs WHERE id = ?`, id))
}

func scanKnowledgeDoc(r rowScanner) (KnowledgeDoc, error) {
	var d KnowledgeDoc
	var created string
	if err := r.Scan(&d.ID, &d.Title, &d.Content, &d.Source, &d.Language, &d.ChunkCount, &created); err != nil {
		return KnowledgeDoc{}, err
	}
	var err error
	d.CreatedAt, err = parseTime("created_at", created)
	return d, err
}
