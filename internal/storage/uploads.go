package storage

const uploadColumns = `id, user_id, session_id, name, mime_type, storage_key, content, analysis_json, created_at`

// SaveUpload stores an uploaded file with its raw bytes. StorageKey must be
// unique across all uploads.
func (s *Store) SaveUpload(u Upload) error {
	_, err := s.db.Exec(`INSERT INTO uploads (`+uploadColumns+`) VALUES (`+placeholders(9)+`)`,
		u.ID, u.UserID, u.SessionID, u.Name, u.MIMEType, u.StorageKey, u.Content, u.AnalysisJSON,
		formatTime(u.CreatedAt),
	)
	return err
}

func (s *Store) GetUpload(id string) (Upload, error) {
	u, err := scanUpload(s.db.QueryRow(`SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id))
	return u, noRows(err)
}

// ListUploads returns the files uploaded in one conversation, oldest first.
func (s *Store) ListUploads(userID, sessionID string) ([]Upload, error) {
	rows, err := s.db.Query(`SELECT `+uploadColumns+` FROM uploads
		WHERE user_id = ? AND session_id = ? ORDER BY created_at, id`, userID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// UpdateUploadAnalysis attaches the serialized document analysis to an upload.
func (s *Store) UpdateUploadAnalysis(id, analysisJSON string) error {
	return mustAffect(s.db.Exec(`UPDATE uploads SET analysis_json = ? WHERE id = ?`, analysisJSON, id))
}

func scanUpload(r rowScanner) (Upload, error) {
	var u Upload
	var created string
	if err := r.Scan(&u.ID, &u.UserID, &u.SessionID, &u.Name, &u.MIMEType, &u.StorageKey,
		&u.Content, &u.AnalysisJSON, &created); err != nil {
		return Upload{}, err
	}
	var err error
	u.CreatedAt, err = parseTime("created_at", created)
	return u, err
}
